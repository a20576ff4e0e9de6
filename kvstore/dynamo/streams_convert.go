package dynamo

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"

	"github.com/ndlib/rstore/kvstore"
)

// fromStreamAV mirrors fromAV but against the distinct AttributeValue
// type dynamodbstreams exposes; the two SDK packages do not share a
// type despite the identical wire shape.
func fromStreamAV(av types.AttributeValue) (interface{}, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		if i, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(v.Value, 64)
		return f, err
	case *types.AttributeValueMemberL:
		out := make([]interface{}, len(v.Value))
		for i, item := range v.Value {
			val, err := fromStreamAV(item)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case *types.AttributeValueMemberM:
		return avStreamToAttributes(v.Value)
	default:
		return nil, fmt.Errorf("dynamo: unsupported stream AttributeValue type %T", av)
	}
}

func avStreamToAttributes(m map[string]types.AttributeValue) (kvstore.Attributes, error) {
	out := make(kvstore.Attributes, len(m))
	for k, av := range m {
		v, err := fromStreamAV(av)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
