package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
	"github.com/robertarktes/group-seat-bookings/internal/observability"
)

// CatalogRepository reads showtimes from the showtimes collection. It
// satisfies invite.ShowtimeCatalog.
type CatalogRepository struct {
	coll     *mongo.Collection
	logger   observability.Logger
	validate *validator.Validate
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:     db.Collection("showtimes"),
		logger:   logger,
		validate: validator.New(),
	}
}

type ShowtimeDoc struct {
	ID         string    `bson:"_id" json:"id"`
	OwnerID    string    `bson:"owner_id" json:"owner_id" validate:"required,uuid"`
	MovieTitle string    `bson:"movie_title" json:"movie_title"`
	Screen     string    `bson:"screen" json:"screen"`
	StartsAt   time.Time `bson:"starts_at" json:"starts_at" validate:"required"`
	Seats      []SeatDoc `bson:"seats" json:"seats" validate:"required,min=1,dive"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

type SeatDoc struct {
	Number string `bson:"number" json:"number" validate:"required"`
	Row    string `bson:"row" json:"row"`
	Type   string `bson:"type" json:"type"`
	Price  int64  `bson:"price" json:"price" validate:"gte=0"`
}

func (d *ShowtimeDoc) toDomain() (*domain.Showtime, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "showtime id %q", d.ID)
	}
	owner, err := uuid.Parse(d.OwnerID)
	if err != nil {
		return nil, errors.Wrapf(err, "owner id %q", d.OwnerID)
	}
	seats := make(map[string]int64, len(d.Seats))
	for _, s := range d.Seats {
		seats[s.Number] = s.Price
	}
	return &domain.Showtime{ID: id, OwnerID: owner, StartsAt: d.StartsAt, Seats: seats}, nil
}

func (c *CatalogRepository) Showtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	var doc ShowtimeDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "showtime %s", id)
	}
	if err != nil {
		c.logger.WithField("showtime_id", id).WithError(err).Error("failed to get showtime")
		return nil, err
	}
	return doc.toDomain()
}

// UpsertShowtime replaces the showtime document with the same id.
func (c *CatalogRepository) UpsertShowtime(ctx context.Context, doc ShowtimeDoc) error {
	if err := c.validate.Struct(doc); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if _, err := doc.toDomain(); err != nil {
		return errors.Mark(err, domain.ErrInvalidInput)
	}
	doc.UpdatedAt = time.Now().UTC()
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithField("showtime_id", doc.ID).WithError(err).Error("failed to upsert showtime")
		return err
	}
	return nil
}
