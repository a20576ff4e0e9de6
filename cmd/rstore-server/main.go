// Command rstore-server wires the core services together against the
// AWS-backed storage engines. It reads configuration, constructs the
// DynamoDB/S3/Elasticsearch clients, and builds the Data Service,
// Bundle Service, Hybrid Store, Change Propagator, and Export Registry,
// then drives the Change Propagator against every open shard on a poll
// loop for the remaining lifetime of the process. The Hybrid Store and
// Export Registry are request-driven components with no background
// work of their own; this process holds them ready for an HTTP layer
// that is out of scope here and lives elsewhere.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	raven "github.com/getsentry/raven-go"
	elastic "gopkg.in/olivere/elastic.v5"

	"github.com/ndlib/rstore/blobstore"
	"github.com/ndlib/rstore/bundle"
	"github.com/ndlib/rstore/changefeed"
	"github.com/ndlib/rstore/config"
	"github.com/ndlib/rstore/dataservice"
	"github.com/ndlib/rstore/export"
	"github.com/ndlib/rstore/hybrid"
	kvdynamo "github.com/ndlib/rstore/kvstore/dynamo"
	"github.com/ndlib/rstore/searchindex"
)

func main() {
	var streamARN = flag.String("stream-arn", "", "DynamoDB Streams ARN for the resource table's change feed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("rstore-server: loading config: %s", err)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("rstore-server: loading AWS config: %s", err)
	}

	resourceKV := kvdynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.ResourceTableName)
	exportKV := kvdynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.ExportTableName)
	blob := blobstore.NewS3(s3.NewFromConfig(awsCfg), cfg.ResourceBucketName, "")

	esClient, err := elastic.NewClient(elastic.SetURL(cfg.SearchIndexEndpoint))
	if err != nil {
		log.Fatalf("rstore-server: connecting to search index: %s", err)
	}
	index := searchindex.NewElastic(esClient)

	ds := dataservice.New(resourceKV, cfg.UpdateCreateSupported)
	ds.Bundle = &bundle.Service{
		KV:             resourceKV,
		VS:             ds.VS,
		Codec:          ds.Codec,
		Now:            time.Now,
		LockDurationMS: cfg.LockDurationMS,
	}

	hybridStore := hybrid.New(ds, blob, cfg.EnableMultiTenancy, cfg.BlobKeySeparator, hybridRegistrations())

	var feed = &kvdynamo.StreamFeed{Client: dynamodbstreams.NewFromConfig(awsCfg), StreamARN: *streamARN}
	propagator := changefeed.New(feed, index, cfg.EnableMultiTenancy, binaryResourceTypes())

	exportRegistry := export.New(exportKV, blob, cfg.MaxExportPerUser, cfg.MaxSystemExport, 4, cfg.ExportURLTTL.Duration)

	surface := &requestSurface{Hybrid: hybridStore, Export: exportRegistry}

	fmt.Printf(
		"rstore-server: ready (resource table=%s, export table=%s, bucket=%s, multi-tenant=%v, export caps=%d/user %d/system)\n",
		cfg.ResourceTableName, cfg.ExportTableName, cfg.ResourceBucketName, cfg.EnableMultiTenancy,
		surface.Export.MaxPerUser, surface.Export.MaxSystem,
	)

	runChangeFeedLoop(ctx, feed, propagator, cfg.ChangeFeedPollInterval.Duration)
}

// requestSurface bundles the components that take no action on their
// own and instead wait to be called by request-response handlers; an
// HTTP layer wiring routes to hybridStore/CRUD and exportRegistry's
// InitiateExport/CancelExport/GetExportStatus lives outside this
// process and holds a value like this one.
type requestSurface struct {
	Hybrid *hybrid.Store
	Export *export.Registry
}

// runChangeFeedLoop drains every open shard of feed through propagator,
// forever, sleeping interval between passes. A shard whose ProcessShard
// call fails keeps its prior cursor so the next pass redelivers it; the
// error is already logged and reported by the propagator itself.
func runChangeFeedLoop(ctx context.Context, feed *kvdynamo.StreamFeed, propagator *changefeed.Propagator, interval time.Duration) {
	cursors := make(map[string]string)
	for {
		shardIDs, err := feed.Shards(ctx)
		if err != nil {
			log.Printf("rstore-server: listing change feed shards: %s", err)
			raven.CaptureError(err, nil)
		}
		for _, shardID := range shardIDs {
			next, err := propagator.ProcessShard(ctx, shardID, cursors[shardID])
			if err != nil {
				continue
			}
			cursors[shardID] = next
		}
		time.Sleep(interval)
	}
}

// hybridRegistrations is the immutable offload table the Hybrid Store is
// constructed with; it is never mutated after construction. Extend this
// table as new resource types need large-field offload.
func hybridRegistrations() map[string][]string {
	return map[string][]string{
		"Questionnaire":         {"item"},
		"QuestionnaireResponse": {"item"},
	}
}

// binaryResourceTypes are skipped entirely by the Change Propagator.
func binaryResourceTypes() []string {
	return []string{"Binary", "Media"}
}
