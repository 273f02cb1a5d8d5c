package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStorage.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStorage keeps stations and price snapshots in two DynamoDB tables.
// Item attribute names match the upstream document so existing tables keep
// working.
type DynamoStorage struct {
	client DynamoAPI
	tables Tables
}

func NewDynamoStorage(client DynamoAPI, tables Tables) *DynamoStorage {
	return &DynamoStorage{client: client, tables: tables}
}

type stationItem struct {
	ID              string `dynamodbav:"Id"`
	Name            string `dynamodbav:"Nome"`
	Brand           string `dynamodbav:"Marca"`
	Usage           string `dynamodbav:"Utilizacao"`
	Address         any    `dynamodbav:"Morada"`
	OperatingHours  any    `dynamodbav:"HorarioPosto"`
	Services        any    `dynamodbav:"Servicos"`
	PaymentMethods  any    `dynamodbav:"MeiosPagamento"`
	Fuels           any    `dynamodbav:"Combustiveis"`
	CreateTimestamp string `dynamodbav:"CreateTimestamp"`
	UpdateTimestamp string `dynamodbav:"UpdateTimestamp"`
}

type priceItem struct {
	ID        string `dynamodbav:"Id"`
	Fuels     any    `dynamodbav:"Combustiveis"`
	Timestamp string `dynamodbav:"Timestamp"`
}

func (s *DynamoStorage) Close() error { return nil }

func (s *DynamoStorage) CreateStation(ctx context.Context, st Station) (CreateResult, error) {
	item, err := toStationItem(st)
	if err != nil {
		return 0, err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return 0, fmt.Errorf("marshal station %s: %w", st.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Stations),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(Id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return AlreadyExists, nil
		}
		return 0, err
	}
	return Created, nil
}

func (s *DynamoStorage) GetStation(ctx context.Context, id string) (*Station, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Stations),
		Key:            map[string]types.AttributeValue{"Id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item stationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal station %s: %w", id, err)
	}
	return fromStationItem(item)
}

func (s *DynamoStorage) TouchStation(ctx context.Context, id string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tables.Stations),
		Key:                 map[string]types.AttributeValue{"Id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:    aws.String("SET UpdateTimestamp = :ts"),
		ConditionExpression: aws.String("attribute_exists(Id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberS{Value: at.UTC().Format(TimestampLayoutSecond)},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	return err
}

func (s *DynamoStorage) PutPriceSnapshot(ctx context.Context, snap PriceSnapshot) error {
	fuels, err := decodeDoc(snap.Fuels)
	if err != nil {
		return fmt.Errorf("decode fuels for %s: %w", snap.StationID, err)
	}
	av, err := attributevalue.MarshalMap(priceItem{ID: snap.StationID, Fuels: fuels, Timestamp: snap.Timestamp})
	if err != nil {
		return fmt.Errorf("marshal price snapshot %s: %w", snap.StationID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Prices),
		Item:      av,
	})
	return err
}

func (s *DynamoStorage) LatestPriceSnapshot(ctx context.Context, stationID, atOrBefore string) (*PriceSnapshot, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Prices),
		KeyConditionExpression: aws.String("Id = :id AND #ts <= :ts"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "Timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: stationID},
			":ts": &types.AttributeValueMemberS{Value: atOrBefore},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	snap, err := fromPriceItem(out.Items[0])
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *DynamoStorage) ListPriceSnapshots(ctx context.Context, stationID string) ([]PriceSnapshot, error) {
	var (
		out       []PriceSnapshot
		startFrom map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tables.Prices),
			KeyConditionExpression: aws.String("Id = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id": &types.AttributeValueMemberS{Value: stationID},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startFrom,
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			snap, err := fromPriceItem(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		startFrom = page.LastEvaluatedKey
	}
}

func toStationItem(st Station) (stationItem, error) {
	item := stationItem{
		ID:              st.ID,
		Name:            st.Name,
		Brand:           st.Brand,
		Usage:           st.Usage,
		CreateTimestamp: st.CreatedAt.UTC().Format(TimestampLayoutSecond),
		UpdateTimestamp: st.UpdatedAt.UTC().Format(TimestampLayoutSecond),
	}
	docs := []struct {
		dst *any
		src []byte
	}{
		{&item.Address, st.Address},
		{&item.OperatingHours, st.OperatingHours},
		{&item.Services, st.Services},
		{&item.PaymentMethods, st.PaymentMethods},
		{&item.Fuels, st.Fuels},
	}
	for _, d := range docs {
		v, err := decodeDoc(d.src)
		if err != nil {
			return stationItem{}, fmt.Errorf("decode station %s: %w", st.ID, err)
		}
		*d.dst = v
	}
	return item, nil
}

func fromStationItem(item stationItem) (*Station, error) {
	st := &Station{
		ID:    item.ID,
		Name:  item.Name,
		Brand: item.Brand,
		Usage: item.Usage,
	}
	docs := []struct {
		dst *[]byte
		src any
	}{
		{(*[]byte)(&st.Address), item.Address},
		{(*[]byte)(&st.OperatingHours), item.OperatingHours},
		{(*[]byte)(&st.Services), item.Services},
		{(*[]byte)(&st.PaymentMethods), item.PaymentMethods},
		{(*[]byte)(&st.Fuels), item.Fuels},
	}
	for _, d := range docs {
		b, err := encodeDoc(d.src)
		if err != nil {
			return nil, fmt.Errorf("encode station %s: %w", item.ID, err)
		}
		*d.dst = b
	}
	var err error
	if st.CreatedAt, err = parseItemTime(item.CreateTimestamp); err != nil {
		return nil, fmt.Errorf("parse CreateTimestamp: %w", err)
	}
	if st.UpdatedAt, err = parseItemTime(item.UpdateTimestamp); err != nil {
		return nil, fmt.Errorf("parse UpdateTimestamp: %w", err)
	}
	return st, nil
}

// parseItemTime reads "2006-01-02 15:04:05" (UTC), with RFC3339 accepted for
// rows written by older fuelsync builds.
func parseItemTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(TimestampLayoutSecond, v, time.UTC)
	if err == nil {
		return t, nil
	}
	if t, rfcErr := time.Parse(time.RFC3339, v); rfcErr == nil {
		return t.UTC(), nil
	}
	return time.Time{}, err
}

func fromPriceItem(raw map[string]types.AttributeValue) (PriceSnapshot, error) {
	var item priceItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return PriceSnapshot{}, fmt.Errorf("unmarshal price snapshot: %w", err)
	}
	fuels, err := encodeDoc(item.Fuels)
	if err != nil {
		return PriceSnapshot{}, err
	}
	return PriceSnapshot{StationID: item.ID, Timestamp: item.Timestamp, Fuels: fuels}, nil
}

func decodeDoc(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeDoc(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
