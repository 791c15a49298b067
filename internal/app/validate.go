package app

import (
	"reflect"
	"strings"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/robfig/cron/v3"
)

// CronParser 定时任务表达式解析器，秒位可选，支持 @every / @daily
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Use a single instance of Validate, it caches struct info
var (
	validate = validator.New()
	trans    ut.Translator
)

func init() {
	uni := ut.New(en.New(), en.New())
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, trans)

	// 错误信息中使用 yaml 字段名
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := CronParser.Parse(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterTranslation("cron", trans,
		func(ut ut.Translator) error {
			return ut.Add("cron", "{0} must be a cron expression or @every duration", true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T("cron", fe.Field())
			return t
		},
	)
}

// Validate 校验配置，返回所有字段错误
func (c *AppConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.New(code.ErrorInvalidConfig, err)
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		// 命名空间去掉顶层 AppConfig
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		msgs = append(msgs, ns+": "+fe.Translate(trans))
	}
	return apperrors.New(code.ErrorInvalidConfig, nil).WithDetails(msgs...)
}
