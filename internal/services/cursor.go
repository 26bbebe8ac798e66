package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/models"
)

// EncodeCursor returns the opaque cursor pointing at l: "<unix millis>_<id hex>".
func EncodeCursor(l *models.Listing) string {
	return fmt.Sprintf("%d_%s", l.Timestamp.UnixMilli(), l.ID.Hex())
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (time.Time, primitive.ObjectID, error) {
	parts := strings.Split(cursor, "_")
	if len(parts) != 2 {
		return time.Time{}, primitive.NilObjectID, apperr.Invalid("cursor", "malformed cursor")
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, primitive.NilObjectID, apperr.Invalid("cursor", "malformed cursor timestamp")
	}
	id, err := primitive.ObjectIDFromHex(parts[1])
	if err != nil {
		return time.Time{}, primitive.NilObjectID, apperr.Invalid("cursor", "malformed cursor id")
	}
	return time.UnixMilli(ms).UTC(), id, nil
}
