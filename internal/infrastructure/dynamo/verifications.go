package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-verify-handoff/internal/domain"
)

const (
	attrToken     = "token"
	attrState     = "state"
	attrAttempt   = "attempt"
	attrCreatedAt = "created_at"
	attrExpiresAt = "expires_at"
)

// verificationItem is the stored shape of a record. created_at is Unix
// milliseconds so it can be compared in condition expressions; expires_at is
// Unix seconds for DynamoDB's TTL reaper, which may lag by hours, so reads
// check created_at themselves.
type verificationItem struct {
	Token           string          `dynamodbav:"token"`
	State           string          `dynamodbav:"state"`
	Attempt         string          `dynamodbav:"attempt"`
	CreatedAt       int64           `dynamodbav:"created_at"`
	UpdatedAt       int64           `dynamodbav:"updated_at"`
	Credential      string          `dynamodbav:"credential,omitempty"`
	ProfileEndpoint string          `dynamodbav:"profile_endpoint,omitempty"`
	Profile         *domain.Profile `dynamodbav:"profile,omitempty"`
	FailureReason   string          `dynamodbav:"failure_reason,omitempty"`
	ExpiresAt       int64           `dynamodbav:"expires_at"`
}

// VerificationRepo is the DynamoDB correlation store.
// PK: token
type VerificationRepo struct {
	client    API
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewVerificationRepo(client API, tableName string, ttl time.Duration) *VerificationRepo {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &VerificationRepo{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (r *VerificationRepo) Put(ctx context.Context, rec *domain.VerificationRecord) error {
	item, err := r.marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put verification: %w", err)
	}
	return nil
}

// PutIfAbsent writes rec unless a live record exists. An expired item the TTL
// reaper has not removed yet counts as absent.
func (r *VerificationRepo) PutIfAbsent(ctx context.Context, rec *domain.VerificationRecord) (bool, error) {
	item, err := r.marshal(rec)
	if err != nil {
		return false, err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#token) OR #created < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#token":   attrToken,
			"#created": attrCreatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": numVal(r.cutoff()),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("put verification: %w", err)
	}
	return true, nil
}

// Get uses a strongly consistent read so a status poll sees the latest write.
func (r *VerificationRepo) Get(ctx context.Context, token string) (*domain.VerificationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(attrToken, token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return r.live(out.Item)
}

// TakeIf deletes the item only while it still carries attempt and one of
// states. DynamoDB serializes writes per item, so only one caller gets the old
// attributes.
func (r *VerificationRepo) TakeIf(ctx context.Context, token, attempt string, states ...domain.State) (*domain.VerificationRecord, bool, error) {
	if len(states) == 0 {
		return nil, false, nil
	}
	cond, values := r.attemptGuard(attempt, states)
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrToken, token),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  guardNames(),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllOld,
	})
	if isConditionFailed(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("take verification: %w", err)
	}
	rec, err := r.live(out.Attributes)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (r *VerificationRepo) Transition(ctx context.Context, next *domain.VerificationRecord) (bool, error) {
	preds := next.State.Predecessors()
	if len(preds) == 0 {
		return false, nil
	}
	item, err := r.marshal(next)
	if err != nil {
		return false, err
	}

	cond, values := r.attemptGuard(next.Attempt, preds)
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      item,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  guardNames(),
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transition verification: %w", err)
	}
	return true, nil
}

func guardNames() map[string]string {
	return map[string]string{
		"#attempt": attrAttempt,
		"#state":   attrState,
		"#created": attrCreatedAt,
	}
}

// attemptGuard builds the condition that the live item carries attempt and
// one of states.
func (r *VerificationRepo) attemptGuard(attempt string, states []domain.State) (string, map[string]types.AttributeValue) {
	values := map[string]types.AttributeValue{
		":attempt": strVal(attempt),
		":cutoff":  numVal(r.cutoff()),
	}
	in := ""
	for i, st := range states {
		key := ":s" + strconv.Itoa(i)
		values[key] = strVal(string(st))
		if i > 0 {
			in += ", "
		}
		in += key
	}
	return "#attempt = :attempt AND #state IN (" + in + ") AND #created >= :cutoff", values
}

// SweepExpired scans for items older than maxAge and deletes them. The delete
// re-checks the age so a record recreated mid-sweep survives.
func (r *VerificationRepo) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := numVal(r.now().Add(-maxAge).UnixMilli())
	names := map[string]string{"#token": attrToken, "#created": attrCreatedAt}

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		ProjectionExpression:      aws.String("#token"),
		FilterExpression:          aws.String("#created < :cutoff"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: map[string]types.AttributeValue{":cutoff": cutoff},
	})

	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("scan verifications: %w", err)
		}
		for _, it := range page.Items {
			tok, ok := it[attrToken].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:                 aws.String(r.tableName),
				Key:                       strKey(attrToken, tok.Value),
				ConditionExpression:       aws.String("#created < :cutoff"),
				ExpressionAttributeNames:  map[string]string{"#created": attrCreatedAt},
				ExpressionAttributeValues: map[string]types.AttributeValue{":cutoff": cutoff},
			})
			if isConditionFailed(err) {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("delete verification: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// cutoff is the oldest created_at, in milliseconds, that is still live.
func (r *VerificationRepo) cutoff() int64 {
	return r.now().Add(-r.ttl).UnixMilli()
}

func (r *VerificationRepo) marshal(rec *domain.VerificationRecord) (map[string]types.AttributeValue, error) {
	it := verificationItem{
		Token:           rec.Token,
		State:           string(rec.State),
		Attempt:         rec.Attempt,
		CreatedAt:       rec.CreatedAt.UnixMilli(),
		UpdatedAt:       rec.UpdatedAt.UnixMilli(),
		Credential:      rec.Credential,
		ProfileEndpoint: rec.ProfileEndpoint,
		Profile:         rec.Profile,
		FailureReason:   rec.FailureReason,
		ExpiresAt:       rec.CreatedAt.Add(r.ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal verification: %w", err)
	}
	return item, nil
}

func (r *VerificationRepo) live(item map[string]types.AttributeValue) (*domain.VerificationRecord, error) {
	if len(item) == 0 {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var it verificationItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal verification: %w", err)
	}
	rec := &domain.VerificationRecord{
		Token:           it.Token,
		State:           domain.State(it.State),
		Attempt:         it.Attempt,
		CreatedAt:       time.UnixMilli(it.CreatedAt),
		UpdatedAt:       time.UnixMilli(it.UpdatedAt),
		Credential:      it.Credential,
		ProfileEndpoint: it.ProfileEndpoint,
		Profile:         it.Profile,
		FailureReason:   it.FailureReason,
	}
	if rec.Expired(r.ttl, r.now()) {
		return nil, fmt.Errorf("verification expired: %w", domain.ErrNotFound)
	}
	return rec, nil
}
