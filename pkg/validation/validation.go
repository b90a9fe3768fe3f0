package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// BodyField はリクエストボディ全体に対するエラーのキー。
const BodyField = "_body"

// FieldErrors はフィールド名(JSON名)ごとのエラーメッセージ集合。
type FieldErrors map[string][]string

// Add はフィールドにエラーメッセージを追加する。
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Defaulter は検証成功後にデフォルト値を適用するペイロードが実装するインターフェース。
type Defaulter interface {
	ApplyDefaults()
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// engine はJSON名でエラーを報告するバリデータを返す。
func engine() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return jsonName(f)
		})
	})
	return validate
}

// Decode はJSONオブジェクトをフィールド単位でdstへデコードし、検証する。
// dstは構造体へのポインタでなければならない。
// 型の不一致と検証ルール違反は全フィールド分を収集して返し、成功時はnilを返す。
// デフォルト値は検証が成功した後にのみ適用される。
func Decode(body []byte, dst any) FieldErrors {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("validation: Decode には構造体へのポインタが必要: %T", dst))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return FieldErrors{BodyField: {"Expected a JSON object"}}
	}

	errs := FieldErrors{}
	labels := map[string]string{}
	elem := rv.Elem()
	typ := elem.Type()
	for i := range typ.NumField() {
		sf := typ.Field(i)
		name := jsonName(sf)
		if !sf.IsExported() || name == "" {
			continue
		}
		labels[name] = label(sf, name)

		value, ok := raw[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, elem.Field(i).Addr().Interface()); err != nil {
			errs.Add(name, typeMessage(sf.Type, value))
		}
	}

	if err := engine().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs.Add(BodyField, err.Error())
			return errs
		}
		for _, fe := range verrs {
			name := fe.Field()
			// 型エラーのあるフィールドは検証ルールのメッセージを重ねない
			if _, typed := errs[name]; typed {
				continue
			}
			errs.Add(name, ruleMessage(fe, labels[name]))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	if d, ok := dst.(Defaulter); ok {
		d.ApplyDefaults()
	}
	return nil
}

// jsonName は構造体フィールドのJSON名を返す。"-" の場合は空文字列。
func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	switch name {
	case "-":
		return ""
	case "":
		return sf.Name
	default:
		return name
	}
}

// label はエラーメッセージに使うフィールドの表示名を返す。
func label(sf reflect.StructField, name string) string {
	if l := sf.Tag.Get("label"); l != "" {
		return l
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// ruleMessage は検証ルール違反のメッセージを生成する。
func ruleMessage(fe validator.FieldError, label string) string {
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email format"
	case "url":
		return "Invalid url"
	case "min":
		if isString(fe.Kind()) {
			return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be greater than or equal to %s", label, fe.Param())
	case "max":
		if isString(fe.Kind()) {
			return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be less than or equal to %s", label, fe.Param())
	case "gt":
		if fe.Param() == "0" {
			return label + " must be positive"
		}
		return fmt.Sprintf("%s must be greater than %s", label, fe.Param())
	case "excludes":
		return fmt.Sprintf("%s must not contain %q", label, fe.Param())
	default:
		return fmt.Sprintf("%s failed on the %q rule", label, fe.Tag())
	}
}

// typeMessage は型の不一致のメッセージを生成する。
func typeMessage(t reflect.Type, value json.RawMessage) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return fmt.Sprintf("Expected %s, received %s", kindName(t.Kind()), receivedName(value))
}

func isString(k reflect.Kind) bool {
	return k == reflect.String
}

func kindName(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

func receivedName(value json.RawMessage) string {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return "undefined"
	}
	switch value[0] {
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case '[':
		return "array"
	case '{':
		return "object"
	default:
		return "number"
	}
}
