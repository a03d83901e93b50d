package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo stores items in memory keyed by the "key" attribute.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
	table string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	if s, ok := m["key"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.table = *in.TableName
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.table = *in.TableName
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	store := NewDynamoStore(fake, "city-weather")

	names, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.Save(ctx, []string{"Hà Nội", "Nha Trang"}))
	assert.Equal(t, "city-weather", fake.table)
	value, ok := fake.items[Key]["value"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, `["Hà Nội","Nha Trang"]`, value.Value)

	names, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hà Nội", "Nha Trang"}, names)

	require.NoError(t, store.Clear(ctx))
	names, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDynamoStore_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.err = errors.New("ResourceNotFoundException")
	store := NewDynamoStore(fake, "missing")

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, fake.err)
	assert.ErrorIs(t, store.Save(ctx, []string{"Huế"}), fake.err)
	assert.ErrorIs(t, store.Clear(ctx), fake.err)
}
