package decoder

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case common.Address:
		return v.Hex()
	case *common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	case *big.Int, big.Int, uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		n, err := asBigInt(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return n.String()
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		buf := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(buf), rv)
		return hexutil.Encode(buf)
	}
	return fmt.Sprintf("%v", value)
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil big int")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
