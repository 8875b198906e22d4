package mongodb

import (
	"context"
	"time"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const profileCacheTTL = 10 * time.Minute

type profileRepository struct {
	collection *mongo.Collection
	cache      interfaces.CacheService
}

// NewProfileRepository caches single-profile reads when cache is non-nil.
func NewProfileRepository(db *mongo.Database, cache interfaces.CacheService) interfaces.ProfileRepository {
	return &profileRepository{
		collection: db.Collection(database.CollectionProfiles),
		cache:      cache,
	}
}

func (r *profileRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Profile, error) {
	if r.cache != nil {
		var cached profileCacheEntry
		if err := r.cache.Get(ctx, profileCacheKey(id), &cached); err == nil {
			profile := cached.Profile
			profile.DeviceTokens = cached.DeviceTokens
			return &profile, nil
		}
	}

	var profile models.Profile
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&profile); err != nil {
		return nil, wrapError("get profile", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, profileCacheKey(id), profileCacheEntry{Profile: profile, DeviceTokens: profile.DeviceTokens}, profileCacheTTL)
	}

	return &profile, nil
}

func (r *profileRepository) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*models.Profile, error) {
	if len(ids) == 0 {
		return []*models.Profile{}, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, wrapError("get profiles", err)
	}
	return decodeAll[models.Profile](ctx, cursor)
}

func (r *profileRepository) ListOthers(ctx context.Context, excludeID primitive.ObjectID, limit int) ([]*models.Profile, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "full_name", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, wrapError("list profiles", err)
	}
	return decodeAll[models.Profile](ctx, cursor)
}

func (r *profileRepository) Upsert(ctx context.Context, id primitive.ObjectID, req *models.UpsertProfileRequest) (*models.Profile, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"full_name":    req.FullName,
			"display_name": req.DisplayName,
			"phone_number": req.PhoneNumber,
			"avatar_url":   req.AvatarURL,
			"updated_at":   now,
		},
		"$setOnInsert": bson.M{
			"low_data_mode": false,
			"created_at":    now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var profile models.Profile
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&profile); err != nil {
		return nil, wrapError("upsert profile", err)
	}

	r.invalidate(ctx, id)
	return &profile, nil
}

// AddDeviceToken moves token to this profile, replacing any earlier
// registration of the same token.
func (r *profileRepository) AddDeviceToken(ctx context.Context, id primitive.ObjectID, token models.DeviceToken) error {
	token.UpdatedAt = time.Now().UTC()

	_, err := r.collection.UpdateMany(ctx,
		bson.M{"device_tokens.token": token.Token},
		bson.M{"$pull": bson.M{"device_tokens": bson.M{"token": token.Token}}},
	)
	if err != nil {
		return wrapError("release device token", err)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"device_tokens": token},
			"$set":  bson.M{"updated_at": token.UpdatedAt},
		},
	)
	if err != nil {
		return wrapError("add device token", err)
	}
	if result.MatchedCount == 0 {
		return wrapError("add device token", mongo.ErrNoDocuments)
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *profileRepository) RemoveDeviceToken(ctx context.Context, id primitive.ObjectID, token string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$pull": bson.M{"device_tokens": bson.M{"token": token}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return wrapError("remove device token", err)
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *profileRepository) UpdatePreferences(ctx context.Context, id primitive.ObjectID, lowDataMode bool) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"low_data_mode": lowDataMode,
			"updated_at":    time.Now().UTC(),
		}},
	)
	if err != nil {
		return wrapError("update preferences", err)
	}
	if result.MatchedCount == 0 {
		return wrapError("update preferences", mongo.ErrNoDocuments)
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *profileRepository) invalidate(ctx context.Context, id primitive.ObjectID) {
	if r.cache != nil {
		r.cache.Delete(ctx, profileCacheKey(id))
	}
}

func profileCacheKey(id primitive.ObjectID) string {
	return "profile:" + id.Hex()
}

// profileCacheEntry keeps device tokens in the cached copy; the JSON form
// of Profile hides them.
type profileCacheEntry struct {
	models.Profile
	DeviceTokens []models.DeviceToken `json:"device_tokens"`
}
