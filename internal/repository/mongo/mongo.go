// Package mongo implements repository.Store on MongoDB.
//
// Users are documents in the "users" collection:
//
//	{ _id: "<xid>", name: "...", email: "...", password_hash: "$2a$...", created_at: ISODate }
//
// A unique index on email is created at startup; MongoDB rejects a second
// insert with the same email with a duplicate key error (E11000).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/model"
	"github.com/sakif/auth-starter/internal/repository"
)

const (
	usersCollection = "users"
	emailIndexName  = "users_email_unique"
)

// userDocument is the BSON shape of a stored user.
type userDocument struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d *userDocument) toModel() *model.User {
	return &model.User{
		ID:           d.ID,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
	}
}

// Store implements repository.Store.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
}

var _ repository.Store = (*Store)(nil)

// New connects to uri, selects database and ensures the email index exists.
func New(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		return nil, errors.New("mongo: database name must not be empty")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging server: %w", err)
	}

	users := client.Database(database).Collection(usersCollection)

	_, err = users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(emailIndexName),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: creating email index: %w", err)
	}

	return &Store{client: client, users: users}, nil
}

// Create inserts a new user document.
func (s *Store) Create(ctx context.Context, user *model.User) error {
	doc := userDocument{
		ID:           xid.New().String(),
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		// BSON dates have millisecond precision.
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("email", repository.DuplicateEmailMessage)
		}
		return fmt.Errorf("mongo: inserting user: %w", err)
	}

	user.ID = doc.ID
	user.CreatedAt = doc.CreatedAt
	return nil
}

// GetByEmail retrieves a user by email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.findOne(ctx, bson.D{{Key: "email", Value: email}})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: getting user by email: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: getting user %s: %w", id, err)
	}
	return u, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (*model.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

// Ping verifies the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client, waiting up to five seconds for in-flight
// operations.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
