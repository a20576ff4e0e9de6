/*
Package rstore implements the persistence and change-propagation core of a
multi-tenant, versioned document store for structured medical resources.

A Resource is a logical entity identified by (resourceType, id). Every
mutation produces a new immutable version and advances that version's
documentStatus through the lifecycle described by DocumentStatus. The
subpackages of this module build on the types defined here:

  - codec: translates between logical resources and stored items
  - paramz: builds conditional-write, query, and transaction descriptors
  - kvstore: the primary key-value store abstraction, plus DynamoDB, SQL,
    and in-memory implementations
  - versionstore: point and range access over the primary table
  - dataservice: single-resource create/read/update/delete
  - bundle: multi-resource atomic transactions with two-phase commit
  - blobstore: the blob store abstraction, plus S3 and in-memory
    implementations
  - hybrid: transparent offload of large fields to the blob store
  - searchindex: the search index abstraction, plus an Elasticsearch
    implementation with alias management
  - changefeed: mirrors the primary table into the search index
  - export: admission-controlled registration of long-running export jobs

Only the data model and the sentinel errors live in this top-level package;
everything else is deliberately split into its own package so each piece
can be tested, and swapped, on its own.
*/
package rstore
