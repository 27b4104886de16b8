package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/delivery-stats/internal/domain"
)

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// AWSStorage keeps credentials in DynamoDB and archives blobs in S3.
type AWSStorage struct {
	dynamoDB  DynamoAPI
	s3Client  S3API
	tableName string
	bucket    string
}

// CredentialItem represents a credential stored in DynamoDB.
type CredentialItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	AccessToken  string `dynamodbav:"AccessToken"`
	RefreshToken string `dynamodbav:"RefreshToken"`
	ClientID     string `dynamodbav:"ClientID"`
	UpdatedAt    string `dynamodbav:"UpdatedAt"`
}

// AWSOptions configures NewAWSStorage.
type AWSOptions struct {
	Table   string
	Bucket  string
	Region  string
	Profile string
	// Static keys take precedence over the profile and the default chain.
	AccessKeyID     string
	SecretAccessKey string
}

// NewAWSStorage creates a new AWS storage instance.
func NewAWSStorage(ctx context.Context, o AWSOptions) (*AWSStorage, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	switch {
	case o.AccessKeyID != "" && o.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, "")))
	case o.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(o.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewAWSStorageWithClients(dynamodb.NewFromConfig(cfg), s3.NewFromConfig(cfg), o.Table, o.Bucket), nil
}

// NewAWSStorageWithClients wires explicit clients, mainly for tests.
func NewAWSStorageWithClients(db DynamoAPI, s3c S3API, tableName, bucket string) *AWSStorage {
	return &AWSStorage{dynamoDB: db, s3Client: s3c, tableName: tableName, bucket: bucket}
}

func credentialKey(accountID string, p domain.Platform) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "ACCOUNT#" + accountID},
		"SK": &types.AttributeValueMemberS{Value: "CREDENTIAL#" + string(p)},
	}
}

// Load implements session.CredentialStore.
func (s *AWSStorage) Load(ctx context.Context, accountID string, p domain.Platform) (domain.Credential, bool, error) {
	out, err := s.dynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            credentialKey(accountID, p),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("getting credential from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.Credential{}, false, nil
	}

	var item CredentialItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Credential{}, false, fmt.Errorf("unmarshaling credential item: %w", err)
	}
	cred := domain.Credential{
		AccessToken:  item.AccessToken,
		RefreshToken: item.RefreshToken,
		ClientID:     item.ClientID,
	}
	if item.UpdatedAt != "" {
		if cred.UpdatedAt, err = time.Parse(time.RFC3339, item.UpdatedAt); err != nil {
			return domain.Credential{}, false, fmt.Errorf("parsing credential timestamp: %w", err)
		}
	}
	return cred, true, nil
}

// Save implements session.CredentialStore.
func (s *AWSStorage) Save(ctx context.Context, accountID string, p domain.Platform, cred domain.Credential) error {
	item := CredentialItem{
		PK:           "ACCOUNT#" + accountID,
		SK:           "CREDENTIAL#" + string(p),
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ClientID:     cred.ClientID,
		UpdatedAt:    cred.UpdatedAt.UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

// SaveToS3 saves data as JSON under key.
func (s *AWSStorage) SaveToS3(ctx context.Context, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data: %w", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

// GetFromS3 retrieves the JSON object at key into target.
func (s *AWSStorage) GetFromS3(ctx context.Context, key string, target interface{}) error {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("reading S3 object body: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshaling S3 data: %w", err)
	}
	return nil
}
