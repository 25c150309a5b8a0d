// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("drmscheme", func(fl validator.FieldLevel) bool {
			_, err := model.ParseScheme(fl.Field().String())
			return err == nil
		})
		v.RegisterStructValidation(validateStore, StoreConfig{})
		validate = v
	})
	return validate
}

func validateStore(sl validator.StructLevel) {
	s := sl.Current().Interface().(StoreConfig)
	switch s.Backend {
	case "sqlite", "badger", "file":
		if s.Path == "" {
			sl.ReportError(s.Path, "path", "Path", "required_for_backend", s.Backend)
		}
	case "redis":
		if s.RedisAddr == "" {
			sl.ReportError(s.RedisAddr, "redisAddr", "RedisAddr", "required_for_backend", s.Backend)
		}
	}
}

// Validate checks cfg and returns one error listing every violation.
func Validate(cfg Config) error {
	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

var ErrInvalidConfig = errors.New("invalid configuration")
