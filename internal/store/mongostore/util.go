package mongostore

import "go.mongodb.org/mongo-driver/mongo/options"

// projectIDOnly returns FindOne options limited to the _id field, the
// cheapest existence-check projection (spec's "exists" operations need
// only confirm presence, never the document body).
func projectIDOnly() *options.FindOneOptions {
	return options.FindOne().SetProjection(map[string]int{"_id": 1})
}
