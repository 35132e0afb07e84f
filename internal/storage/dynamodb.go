package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
)

// DynamoDBStorage implements Storage using AWS DynamoDB. Staging tables are
// keyed by row id; production tables are keyed by a uniqueness attribute
// (composite for comments and metrics, the normalized link for posts) so a
// conditional put enforces the same constraints the relational schema does.
type DynamoDBStorage struct {
	client *dynamodb.DynamoDB
	prefix string
}

// uniqKeyAttr is the hash-key attribute of the production tables.
const uniqKeyAttr = "uniq_key"

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client: dynamodb.New(sess),
		prefix: cfg.TablePrefix,
	}

	// Create tables if they don't exist (for local testing)
	if err := storage.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure tables exist: %w", err)
	}

	return storage, nil
}

func (d *DynamoDBStorage) table(name string) string {
	return d.prefix + "_" + name
}

// ensureTables creates every table the service touches if absent.
func (d *DynamoDBStorage) ensureTables() error {
	keyed := map[string]string{
		tableImportComments: "id",
		tableImportMetrics:  "id",
		tableImportPosts:    "id",
		tableComments:       uniqKeyAttr,
		tablePostMetrics:    uniqKeyAttr,
		tablePosts:          uniqKeyAttr,
		tableTransferRuns:   "id",
	}

	for name, key := range keyed {
		if err := d.ensureTable(d.table(name), key); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
	}
	return nil
}

func (d *DynamoDBStorage) ensureTable(tableName, hashKey string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(hashKey),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(hashKey),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
}

func isConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
	}
	return false
}

// scanStaging scans one staging table applying the batch filter. The staging
// tables carry no secondary index; batches are capped well below scan limits,
// so a filtered scan is acceptable here.
func (d *DynamoDBStorage) scanStaging(ctx context.Context, tableName string, q StagingQuery) ([]map[string]*dynamodb.AttributeValue, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.table(tableName)),
	}

	if len(q.IDs) > 0 {
		values := map[string]*dynamodb.AttributeValue{}
		placeholders := ""
		for i, id := range q.IDs {
			name := fmt.Sprintf(":id%d", i)
			values[name] = &dynamodb.AttributeValue{S: aws.String(id)}
			if i > 0 {
				placeholders += ", "
			}
			placeholders += name
		}
		input.FilterExpression = aws.String("id IN (" + placeholders + ")")
		input.ExpressionAttributeValues = values
	} else {
		input.FilterExpression = aws.String("file_name = :fn")
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":fn": {S: aws.String(q.FileName)},
		}
	}

	result, err := d.client.ScanWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", tableName, err)
	}
	return result.Items, nil
}

// FetchStagingComments retrieves a batch of staged comment rows
func (d *DynamoDBStorage) FetchStagingComments(ctx context.Context, q StagingQuery) ([]models.StagingComment, error) {
	items, err := d.scanStaging(ctx, tableImportComments, q)
	if err != nil {
		return nil, err
	}
	var rows []models.StagingComment
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staging comments: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ImportDate.Before(rows[j].ImportDate) })
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// FetchStagingMetrics retrieves a batch of staged metric rows
func (d *DynamoDBStorage) FetchStagingMetrics(ctx context.Context, q StagingQuery) ([]models.StagingMetric, error) {
	items, err := d.scanStaging(ctx, tableImportMetrics, q)
	if err != nil {
		return nil, err
	}
	var rows []models.StagingMetric
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staging metrics: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ImportDate.Before(rows[j].ImportDate) })
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// FetchStagingPosts retrieves a batch of staged post rows
func (d *DynamoDBStorage) FetchStagingPosts(ctx context.Context, q StagingQuery) ([]models.StagingPost, error) {
	items, err := d.scanStaging(ctx, tableImportPosts, q)
	if err != nil {
		return nil, err
	}
	var rows []models.StagingPost
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staging posts: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ImportDate.Before(rows[j].ImportDate) })
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// MarkStagingRow writes the outcome of a transfer attempt back onto a staging row
func (d *DynamoDBStorage) MarkStagingRow(ctx context.Context, entity string, id string, update StagingUpdate) error {
	tableName, err := stagingTableFor(entity)
	if err != nil {
		return err
	}

	_, err = d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table(tableName)),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
		UpdateExpression: aws.String("SET #st = :status, error_message = :msg, flag_use = :flag"),
		ExpressionAttributeNames: map[string]*string{
			"#st": aws.String("status"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":status": {S: aws.String(update.Status)},
			":msg":    {S: aws.String(update.ErrorMessage)},
			":flag":   {BOOL: aws.Bool(update.FlagUse)},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("staging row %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update staging row %s: %w", id, err)
	}
	return nil
}

// PendingFileNames lists batches that still have queued staging rows
func (d *DynamoDBStorage) PendingFileNames(ctx context.Context, entity string) ([]string, error) {
	tableName, err := stagingTableFor(entity)
	if err != nil {
		return nil, err
	}

	result, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.table(tableName)),
		FilterExpression: aws.String("#st = :queued"),
		ExpressionAttributeNames: map[string]*string{
			"#st": aws.String("status"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":queued": {S: aws.String(models.StatusQueued)},
		},
		ProjectionExpression: aws.String("file_name"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending file names: %w", err)
	}

	seen := map[string]bool{}
	var names []string
	for _, item := range result.Items {
		if attr, ok := item["file_name"]; ok && attr.S != nil && *attr.S != "" && !seen[*attr.S] {
			seen[*attr.S] = true
			names = append(names, *attr.S)
		}
	}
	return names, nil
}

// FindPostByLink looks up a production post by its normalized link. The posts
// table is keyed by link, so this is a point read.
func (d *DynamoDBStorage) FindPostByLink(ctx context.Context, link string) (*models.Post, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table(tablePosts)),
		Key: map[string]*dynamodb.AttributeValue{
			uniqKeyAttr: {S: aws.String(link)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find post by link: %w", err)
	}
	if result.Item == nil {
		return nil, nil // Post not found
	}

	var post models.Post
	if err := dynamodbattribute.UnmarshalMap(result.Item, &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	return &post, nil
}

func (d *DynamoDBStorage) conditionalPut(ctx context.Context, tableName, uniqKey string, record interface{}) error {
	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	item[uniqKeyAttr] = &dynamodb.AttributeValue{S: aws.String(uniqKey)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table(tableName)),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + uniqKeyAttr + ")"),
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("%s %s: %w", tableName, uniqKey, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to store record in %s: %w", tableName, err)
	}
	return nil
}

// InsertComment inserts a production comment
func (d *DynamoDBStorage) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	key := comment.ExternalCommentID + "#" + comment.PostID
	if err := d.conditionalPut(ctx, tableComments, key, comment); err != nil {
		return "", err
	}
	return comment.ID, nil
}

// InsertMetric inserts a production metrics snapshot
func (d *DynamoDBStorage) InsertMetric(ctx context.Context, metric *models.PostMetric) (string, error) {
	key := metric.PostID + "#" + metric.CapturedAt.UTC().Format(time.RFC3339)
	if err := d.conditionalPut(ctx, tablePostMetrics, key, metric); err != nil {
		return "", err
	}
	return metric.ID, nil
}

// UpsertPost inserts or refreshes a production post keyed by normalized link
func (d *DynamoDBStorage) UpsertPost(ctx context.Context, post *models.Post) (string, bool, error) {
	existing, err := d.FindPostByLink(ctx, post.PostLink)
	if err != nil {
		return "", false, err
	}

	record := *post
	updated := false
	if existing != nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		updated = true
	}

	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal post: %w", err)
	}
	item[uniqKeyAttr] = &dynamodb.AttributeValue{S: aws.String(post.PostLink)}

	if _, err := d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table(tablePosts)),
		Item:      item,
	}); err != nil {
		return "", false, fmt.Errorf("failed to upsert post: %w", err)
	}
	return record.ID, updated, nil
}

// GetPosts retrieves production posts with pagination. DynamoDB has no
// offset; the scan reads limit+offset items and slices, which is fine for
// dashboard-sized pages.
func (d *DynamoDBStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.Post, error) {
	result, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.table(tablePosts)),
		Limit:     aws.Int64(int64(limit + offset)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts: %w", err)
	}

	var posts []models.Post
	if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &posts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal posts: %w", err)
	}
	if offset >= len(posts) {
		return nil, nil
	}
	posts = posts[offset:]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// GetPostByID retrieves a specific production post by its record id
func (d *DynamoDBStorage) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	result, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.table(tablePosts)),
		FilterExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	if len(result.Items) == 0 {
		return nil, nil // Post not found
	}

	var post models.Post
	if err := dynamodbattribute.UnmarshalMap(result.Items[0], &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	return &post, nil
}

// RecordTransferRun appends one entry to the transfer run log
func (d *DynamoDBStorage) RecordTransferRun(ctx context.Context, run models.TransferRunLog) error {
	item, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer run: %w", err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table(tableTransferRuns)),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to record transfer run: %w", err)
	}
	return nil
}

// LatestTransferRuns returns the most recent run per entity
func (d *DynamoDBStorage) LatestTransferRuns(ctx context.Context) ([]models.TransferRunLog, error) {
	result, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.table(tableTransferRuns)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transfer runs: %w", err)
	}

	var all []models.TransferRunLog
	if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &all); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer runs: %w", err)
	}

	latest := map[string]models.TransferRunLog{}
	for _, run := range all {
		if current, ok := latest[run.Entity]; !ok || run.FinishedAt.After(current.FinishedAt) {
			latest[run.Entity] = run
		}
	}

	var runs []models.TransferRunLog
	for _, entity := range []string{models.EntityComments, models.EntityMetrics, models.EntityPosts} {
		if run, ok := latest[entity]; ok {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
