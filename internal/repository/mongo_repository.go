package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront-cart/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type cartDocument struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	UserID      string               `bson:"user_id"`
	Items       []lineDocument       `bson:"items"`
	TotalAmount primitive.Decimal128 `bson:"total_amount"`
	TotalItems  int                  `bson:"total_items"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type lineDocument struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Image     string               `bson:"image"`
	Category  string               `bson:"category"`
	Quantity  int                  `bson:"quantity"`
	AddedAt   time.Time            `bson:"added_at"`
}

// MongoRepository is the MongoDB backed CartRepository.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) FindByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return fromDocument(doc)
}

func (m *MongoRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	now := time.Now().UTC()

	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"items":        bson.A{},
			"total_amount": zeroDecimal128(),
			"total_items":  0,
			"created_at":   now,
			"updated_at":   now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		// Two concurrent upserts for a new user: the unique index rejects the
		// loser, and the winner's document is the one to use.
		if mongo.IsDuplicateKeyError(err) {
			return m.FindByUser(ctx, userID)
		}
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}

	return fromDocument(doc)
}

func (m *MongoRepository) Create(ctx context.Context, userID string) (*domain.Cart, error) {
	now := time.Now().UTC()
	cart := domain.NewCart(userID)
	cart.CreatedAt = now
	cart.UpdatedAt = now

	doc, err := toDocument(cart)
	if err != nil {
		return nil, err
	}

	res, err := m.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrCartExists
		}
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		cart.ID = id.Hex()
	}

	return cart, nil
}

func (m *MongoRepository) Save(ctx context.Context, cart *domain.Cart) error {
	cart.Recalculate()
	cart.UpdatedAt = time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}

	doc, err := toDocument(cart)
	if err != nil {
		return err
	}

	result, err := m.collection.ReplaceOne(ctx, bson.M{"user_id": cart.UserID}, doc)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}

// EnsureIndexes creates the unique user_id index that backs the one cart per
// user rule.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_id_unique"),
	}

	if _, err := m.collection.Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, readpref.Primary())
}

func toDocument(cart *domain.Cart) (cartDocument, error) {
	total, err := toDecimal128(cart.TotalAmount)
	if err != nil {
		return cartDocument{}, err
	}

	doc := cartDocument{
		UserID:      cart.UserID,
		Items:       make([]lineDocument, 0, len(cart.Items)),
		TotalAmount: total,
		TotalItems:  cart.TotalItems,
		CreatedAt:   cart.CreatedAt,
		UpdatedAt:   cart.UpdatedAt,
	}
	if cart.ID != "" {
		id, err := primitive.ObjectIDFromHex(cart.ID)
		if err != nil {
			return cartDocument{}, fmt.Errorf("invalid cart id %q: %w", cart.ID, err)
		}
		doc.ID = id
	}

	for _, line := range cart.Items {
		price, err := toDecimal128(line.Price)
		if err != nil {
			return cartDocument{}, err
		}
		doc.Items = append(doc.Items, lineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     price,
			Image:     line.Image,
			Category:  line.Category,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
		})
	}

	return doc, nil
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	total, err := fromDecimal128(doc.TotalAmount)
	if err != nil {
		return nil, err
	}

	cart := &domain.Cart{
		ID:          doc.ID.Hex(),
		UserID:      doc.UserID,
		Items:       make([]domain.CartLine, 0, len(doc.Items)),
		TotalAmount: total,
		TotalItems:  doc.TotalItems,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}

	for _, line := range doc.Items {
		price, err := fromDecimal128(line.Price)
		if err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, domain.CartLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     price,
			Image:     line.Image,
			Category:  line.Category,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
		})
	}

	return cart, nil
}

// toDecimal128 stores amounts at domain.PriceScale. Validated prices already
// fit; the rounding keeps any derived total encodable.
func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.Round(domain.PriceScale).String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("failed to encode amount %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode amount %s: %w", v, err)
	}
	return d, nil
}

func zeroDecimal128() primitive.Decimal128 {
	v, _ := primitive.ParseDecimal128("0")
	return v
}
