package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"
)

func mockMongoDuplicateKeyError(key string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: test.users index: email_1 dup key: { : \"%s\" }", key),
	}}}
}

func TestIsMongoDuplicateKeyError(t *testing.T) {
	assert.True(t, IsMongoDuplicateKeyError(mockMongoDuplicateKeyError("a@b.c")))
	assert.True(t, IsMongoDuplicateKeyError(fmt.Errorf("insert user: %w", mockMongoDuplicateKeyError("a@b.c"))))

	bulk := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}}}
	assert.True(t, IsMongoDuplicateKeyError(bulk))

	assert.False(t, IsMongoDuplicateKeyError(errors.New("some other error")))
	assert.False(t, IsMongoDuplicateKeyError(mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 121}}}))
	assert.False(t, IsMongoDuplicateKeyError(nil))
}
