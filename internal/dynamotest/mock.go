// Package dynamotest provides an in-memory DynamoDB double for unit tests. It
// understands the subset of expression syntax the stores in this repository emit:
// SET/REMOVE/ADD update clauses, attribute_exists/attribute_not_exists, equality and IN
// conditions joined with AND, key-condition queries on tables and GSIs, and
// all-or-nothing TransactWriteItems.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type index struct {
	pk, sk string
}

type table struct {
	pk, sk  string
	indexes map[string]index
	items   map[string]map[string]types.AttributeValue
}

// Mock implements aws.DynamoDBAPI in memory.
type Mock struct {
	mu       sync.Mutex
	tables   map[string]*table
	calls    map[string]int
	failures map[string]error
}

// New returns an empty Mock with no tables.
func New() *Mock {
	return &Mock{
		tables:   map[string]*table{},
		calls:    map[string]int{},
		failures: map[string]error{},
	}
}

// CreateTable registers a table with a partition key and an optional sort key.
func (m *Mock) CreateTable(name, pk, sk string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &table{pk: pk, sk: sk, indexes: map[string]index{}, items: map[string]map[string]types.AttributeValue{}}
	return m
}

// AddIndex registers a global secondary index on an existing table.
func (m *Mock) AddIndex(tableName, indexName, pk, sk string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[tableName].indexes[indexName] = index{pk: pk, sk: sk}
	return m
}

// FailOn makes every op ("PutItem", "UpdateItem", ...) against tableName return err.
// Passing a nil err clears the failure.
func (m *Mock) FailOn(op, tableName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op+"/"+tableName)
		return
	}
	m.failures[op+"/"+tableName] = err
}

// Calls reports how many times op was invoked.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Len reports the number of items stored in tableName.
func (m *Mock) Len(tableName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[tableName].items)
}

// Item returns a copy of the stored item, or nil.
func (m *Mock) Item(tableName string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	item, ok := t.items[t.keyOf(key)]
	if !ok {
		return nil
	}
	return clone(item)
}

// Seed stores item unconditionally.
func (m *Mock) Seed(tableName string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[tableName]
	t.items[t.keyOf(item)] = clone(item)
}

func (m *Mock) begin(op string, tableName *string) (*table, error) {
	m.calls[op]++
	if tableName == nil {
		return nil, errors.New("dynamotest: missing table name")
	}
	if err := m.failures[op+"/"+*tableName]; err != nil {
		return nil, err
	}
	t, ok := m.tables[*tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table " + *tableName + " not found")}
	}
	return t, nil
}

func (m *Mock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin("PutItem", params.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(params.Item)
	ok, err := evalCondition(params.ConditionExpression, t.items[k], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailure()
	}
	t.items[k] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *Mock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin("GetItem", params.TableName)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[t.keyOf(params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (m *Mock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin("UpdateItem", params.TableName)
	if err != nil {
		return nil, err
	}
	updated, err := t.update(params.Key, params.UpdateExpression, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew || params.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = clone(updated)
	}
	return out, nil
}

func (m *Mock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin("DeleteItem", params.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(params.Key)
	ok, err := evalCondition(params.ConditionExpression, t.items[k], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailure()
	}
	delete(t.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

var keyCondRe = regexp.MustCompile(`^\s*(\S+)\s*=\s*(:\w+)\s*$`)

func (m *Mock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.begin("Query", params.TableName)
	if err != nil {
		return nil, err
	}
	pkName, skName := t.pk, t.sk
	if params.IndexName != nil {
		idx, ok := t.indexes[*params.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: index %s not found", *params.IndexName)
		}
		pkName, skName = idx.pk, idx.sk
	}
	if params.KeyConditionExpression == nil {
		return nil, errors.New("dynamotest: missing key condition")
	}
	match := keyCondRe.FindStringSubmatch(*params.KeyConditionExpression)
	if match == nil {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", *params.KeyConditionExpression)
	}
	if resolveName(match[1], params.ExpressionAttributeNames) != pkName {
		return nil, fmt.Errorf("dynamotest: key condition must use %s", pkName)
	}
	want := params.ExpressionAttributeValues[match[2]]

	var rows []map[string]types.AttributeValue
	for _, item := range t.items {
		if v, ok := item[pkName]; ok && equal(v, want) {
			rows = append(rows, item)
		}
	}
	ordKey := func(item map[string]types.AttributeValue) string {
		return scalar(item[skName]) + "\x00" + t.keyOf(item)
	}
	sort.Slice(rows, func(i, j int) bool { return ordKey(rows[i]) < ordKey(rows[j]) })
	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	if !forward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	if len(params.ExclusiveStartKey) > 0 {
		start := ordKey(params.ExclusiveStartKey)
		cut := len(rows)
		for i, row := range rows {
			if (forward && ordKey(row) > start) || (!forward && ordKey(row) < start) {
				cut = i
				break
			}
		}
		rows = rows[cut:]
	}

	out := &dyn.QueryOutput{}
	for i, row := range rows {
		if params.Limit != nil && i == int(*params.Limit) {
			last := rows[i-1]
			out.LastEvaluatedKey = map[string]types.AttributeValue{t.pk: last[t.pk], pkName: last[pkName]}
			if t.sk != "" {
				out.LastEvaluatedKey[t.sk] = last[t.sk]
			}
			if skName != "" {
				out.LastEvaluatedKey[skName] = last[skName]
			}
			break
		}
		out.ScannedCount++
		ok, err := evalCondition(params.FilterExpression, row, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, clone(row))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func (m *Mock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["TransactWriteItems"]++

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	cancelled := false
	for i, ti := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		var (
			tableName *string
			key       map[string]types.AttributeValue
			cond      *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			tableName, key, cond, names, values = ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			tableName, key, cond, names, values = ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
		case ti.Delete != nil:
			tableName, key, cond, names, values = ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			tableName, key, cond, names, values = ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("dynamotest: empty transact item")
		}
		if tableName == nil {
			return nil, errors.New("dynamotest: missing table name")
		}
		if err := m.failures["TransactWriteItems/"+*tableName]; err != nil {
			return nil, err
		}
		t, ok := m.tables[*tableName]
		if !ok {
			return nil, &types.ResourceNotFoundException{Message: strPtr("table " + *tableName + " not found")}
		}
		ok, err := evalCondition(cond, t.items[t.keyOf(key)], names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			cancelled = true
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range params.TransactItems {
		switch {
		case ti.Put != nil:
			t := m.tables[*ti.Put.TableName]
			t.items[t.keyOf(ti.Put.Item)] = clone(ti.Put.Item)
		case ti.Update != nil:
			t := m.tables[*ti.Update.TableName]
			if _, err := t.update(ti.Update.Key, ti.Update.UpdateExpression, nil, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		case ti.Delete != nil:
			t := m.tables[*ti.Delete.TableName]
			delete(t.items, t.keyOf(ti.Delete.Key))
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (t *table) keyOf(item map[string]types.AttributeValue) string {
	k := scalar(item[t.pk])
	if t.sk != "" {
		k += "|" + scalar(item[t.sk])
	}
	return k
}

var clauseRe = regexp.MustCompile(`\b(SET|REMOVE|ADD)\s`)

func (t *table) update(key map[string]types.AttributeValue, expr, cond *string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	k := t.keyOf(key)
	current := t.items[k]
	ok, err := evalCondition(cond, current, names, values)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailure()
	}
	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	if expr == nil {
		return nil, errors.New("dynamotest: missing update expression")
	}

	locs := clauseRe.FindAllStringSubmatchIndex(*expr, -1)
	for i, loc := range locs {
		end := len(*expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		verb := (*expr)[loc[2]:loc[3]]
		body := (*expr)[loc[1]:end]
		for _, part := range strings.Split(body, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			switch verb {
			case "SET":
				lhs, rhs, found := strings.Cut(part, "=")
				if !found {
					return nil, fmt.Errorf("dynamotest: bad SET clause %q", part)
				}
				v, ok := values[strings.TrimSpace(rhs)]
				if !ok {
					return nil, fmt.Errorf("dynamotest: missing value %s", strings.TrimSpace(rhs))
				}
				next[resolveName(strings.TrimSpace(lhs), names)] = v
			case "REMOVE":
				delete(next, resolveName(part, names))
			case "ADD":
				fields := strings.Fields(part)
				if len(fields) != 2 {
					return nil, fmt.Errorf("dynamotest: bad ADD clause %q", part)
				}
				name := resolveName(fields[0], names)
				delta, ok := values[fields[1]].(*types.AttributeValueMemberN)
				if !ok {
					return nil, fmt.Errorf("dynamotest: ADD needs a number for %s", name)
				}
				sum, err := addNumbers(next[name], delta.Value)
				if err != nil {
					return nil, err
				}
				next[name] = &types.AttributeValueMemberN{Value: sum}
			}
		}
	}
	t.items[k] = next
	return next, nil
}

var inRe = regexp.MustCompile(`^(\S+)\s+IN\s*\((.*)\)$`)

func evalCondition(expr *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		for strings.HasPrefix(clause, "(") && strings.HasSuffix(clause, ")") && !strings.Contains(clause, " IN ") {
			clause = strings.TrimSpace(clause[1 : len(clause)-1])
		}
		ok, err := evalClause(clause, item, names, values)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	switch {
	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		_, ok := item[resolveName(clause[len("attribute_exists("):len(clause)-1], names)]
		return ok, nil
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		_, ok := item[resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)]
		return !ok, nil
	}
	if m := inRe.FindStringSubmatch(clause); m != nil {
		got, ok := item[resolveName(m[1], names)]
		if !ok {
			return false, nil
		}
		for _, ref := range strings.Split(m[2], ",") {
			if equal(got, values[strings.TrimSpace(ref)]) {
				return true, nil
			}
		}
		return false, nil
	}
	if lhs, rhs, found := strings.Cut(clause, "<>"); found {
		got, ok := item[resolveName(strings.TrimSpace(lhs), names)]
		return !ok || !equal(got, values[strings.TrimSpace(rhs)]), nil
	}
	if lhs, rhs, found := strings.Cut(clause, "="); found {
		got, ok := item[resolveName(strings.TrimSpace(lhs), names)]
		return ok && equal(got, values[strings.TrimSpace(rhs)]), nil
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func resolveName(name string, names map[string]string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func scalar(v types.AttributeValue) string {
	switch a := v.(type) {
	case *types.AttributeValueMemberS:
		return a.Value
	case *types.AttributeValueMemberN:
		f, err := strconv.ParseFloat(a.Value, 64)
		if err != nil {
			return a.Value
		}
		// fixed width so numeric keys sort lexically
		return fmt.Sprintf("%030.6f", f)
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(a.Value)
	}
	return ""
}

func equal(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return false
	}
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && scalar(x) == scalar(y)
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return false
}

func addNumbers(current types.AttributeValue, delta string) (string, error) {
	d, err := strconv.ParseFloat(delta, 64)
	if err != nil {
		return "", fmt.Errorf("dynamotest: parse %q: %w", delta, err)
	}
	var base float64
	if n, ok := current.(*types.AttributeValueMemberN); ok {
		base, err = strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return "", fmt.Errorf("dynamotest: parse %q: %w", n.Value, err)
		}
	}
	return strconv.FormatFloat(base+d, 'f', -1, 64), nil
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func conditionalFailure() error {
	return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
}

func strPtr(s string) *string { return &s }
