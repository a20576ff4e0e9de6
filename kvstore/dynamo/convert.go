package dynamo

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ndlib/rstore/kvstore"
)

func toAV(v interface{}) (types.AttributeValue, error) {
	switch val := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: val}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: val}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(val)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(val, 10)}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(val, 'f', -1, 64)}, nil
	case []string:
		list := make([]types.AttributeValue, len(val))
		for i, s := range val {
			list[i] = &types.AttributeValueMemberS{Value: s}
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case []interface{}:
		list := make([]types.AttributeValue, len(val))
		for i, item := range val {
			av, err := toAV(item)
			if err != nil {
				return nil, err
			}
			list[i] = av
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case map[string]interface{}:
		m, err := attributesToAV(val)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case kvstore.Attributes:
		m, err := attributesToAV(val)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	default:
		return nil, fmt.Errorf("dynamo: unsupported attribute value type %T", v)
	}
}

func fromAV(av types.AttributeValue) (interface{}, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		if i, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(v.Value, 64)
		return f, err
	case *types.AttributeValueMemberL:
		out := make([]interface{}, len(v.Value))
		for i, item := range v.Value {
			val, err := fromAV(item)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case *types.AttributeValueMemberM:
		return avToAttributes(v.Value)
	default:
		return nil, fmt.Errorf("dynamo: unsupported AttributeValue type %T", av)
	}
}

func attributesToAV(attrs kvstore.Attributes) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(attrs))
	for k, v := range attrs {
		av, err := toAV(v)
		if err != nil {
			return nil, err
		}
		out[k] = av
	}
	return out, nil
}

func avToAttributes(m map[string]types.AttributeValue) (kvstore.Attributes, error) {
	out := make(kvstore.Attributes, len(m))
	for k, av := range m {
		v, err := fromAV(av)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func valuesToAV(values map[string]interface{}) (map[string]types.AttributeValue, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]types.AttributeValue, len(values))
	for k, v := range values {
		av, err := toAV(v)
		if err != nil {
			return nil, err
		}
		out[k] = av
	}
	return out, nil
}
