package dynamostore

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/acksell/slotdb/physical"
)

// condition translates a predicate into a DynamoDB condition. ok is false
// for the nil predicate, which needs no condition.
func condition(p physical.Predicate) (cond expression.ConditionBuilder, ok bool, err error) {
	switch x := p.(type) {
	case nil:
		return cond, false, nil
	case physical.And:
		return combine(x, expression.And)
	case physical.Or:
		return combine(x, expression.Or)
	case physical.Eq:
		name := expression.Name(x.Field)
		if x.Value == nil {
			return expression.Or(
				expression.AttributeNotExists(name),
				expression.AttributeType(name, expression.Null),
			), true, nil
		}
		return expression.Equal(name, expression.Value(x.Value)), true, nil
	case physical.StartsWith:
		return expression.BeginsWith(expression.Name(x.Field), x.Prefix), true, nil
	case physical.Compare:
		name, val := expression.Name(x.Field), expression.Value(x.Value)
		switch x.Op {
		case physical.Gt:
			return expression.GreaterThan(name, val), true, nil
		case physical.Gte:
			return expression.GreaterThanEqual(name, val), true, nil
		case physical.Lt:
			return expression.LessThan(name, val), true, nil
		case physical.Lte:
			return expression.LessThanEqual(name, val), true, nil
		}
		return cond, false, fmt.Errorf("unknown comparator %q", x.Op)
	}
	return cond, false, fmt.Errorf("unknown predicate %T", p)
}

type joinFunc func(left, right expression.ConditionBuilder, other ...expression.ConditionBuilder) expression.ConditionBuilder

func combine(ps []physical.Predicate, join joinFunc) (expression.ConditionBuilder, bool, error) {
	var conds []expression.ConditionBuilder
	for _, p := range ps {
		c, ok, err := condition(p)
		if err != nil {
			return c, false, err
		}
		if ok {
			conds = append(conds, c)
		}
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false, nil
	case 1:
		return conds[0], true, nil
	}
	return join(conds[0], conds[1], conds[2:]...), true, nil
}

// updateBuilder translates the update applied to an existing document.
// SetOnInsert only matters to upserts, which are written as whole items.
func updateBuilder(u physical.Update) (expression.UpdateBuilder, bool) {
	var ub expression.UpdateBuilder
	ok := false
	for _, f := range slices.Sorted(maps.Keys(u.Set)) {
		ub = ub.Set(expression.Name(f), expression.Value(u.Set[f]))
		ok = true
	}
	for _, f := range u.Unset {
		ub = ub.Remove(expression.Name(f))
		ok = true
	}
	for _, f := range slices.Sorted(maps.Keys(u.Inc)) {
		ub = ub.Add(expression.Name(f), expression.Value(u.Inc[f]))
		ok = true
	}
	return ub, ok
}

func marshalDocument(doc physical.Document) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return item, nil
}

func unmarshalDocument(item map[string]types.AttributeValue) (physical.Document, error) {
	var m map[string]any
	err := attributevalue.UnmarshalMapWithOptions(item, &m, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return physical.Document(normalize(m).(map[string]any)), nil
}

// normalize turns decoded numbers into int64 when integral and float64
// otherwise.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case attributevalue.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			return f
		}
		return string(x)
	}
	return v
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		idAttribute: &types.AttributeValueMemberS{Value: id},
	}
}
