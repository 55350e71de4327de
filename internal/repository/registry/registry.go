package registry

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// Record is one name's entry in the text-record namespace: an
	// optional public key plus the three inbox-parameter records.
	Record struct {
		Name      string `bson:"name"`
		PublicKey string `bson:"public_key,omitempty"`
		Overlay   string `bson:"overlay"`
		BaseID    string `bson:"base_id"`
		Proximity uint8  `bson:"proximity"`
	}

	Repo struct {
		collection *mongo.Collection
	}
)

func NewRepo(db *mongo.Database) *Repo {
	return &Repo{
		collection: db.Collection("names"),
	}
}

// GetByName returns (nil, nil) when the name has no record.
func (r *Repo) GetByName(ctx context.Context, name string) (*Record, error) {
	filter := bson.M{
		"name": name,
	}

	var rec Record
	err := r.collection.FindOne(ctx, filter).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Upsert creates or replaces the record for rec.Name.
func (r *Repo) Upsert(ctx context.Context, rec *Record) error {
	filter := bson.M{
		"name": rec.Name,
	}

	_, err := r.collection.UpdateOne(ctx, filter,
		bson.M{"$set": rec},
		options.Update().SetUpsert(true),
	)
	return err
}
