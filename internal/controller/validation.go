// internal/controller/validation.go
package controller

import (
    "encoding/json"
    "errors"
    "net/http"
    "reflect"
    "strings"

    "github.com/go-playground/validator/v10"

    "github.com/unclebandit/wagateway/internal/transport"
)

var validate = newValidator()

func newValidator() *validator.Validate {
    v := validator.New(validator.WithRequiredStructEnabled())
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
        return transport.ValidPhone(transport.NormalizePhone(fl.Field().String()))
    })
    return v
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// On failure it writes the 400 response itself and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
    if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
        writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: err.Error()})
        return false
    }
    if err := validate.Struct(dst); err != nil {
        var verrs validator.ValidationErrors
        if !errors.As(err, &verrs) {
            writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Message: err.Error()})
            return false
        }
        fields := make(map[string]string, len(verrs))
        for _, fe := range verrs {
            fields[fieldPath(fe.Namespace())] = fe.Tag()
        }
        writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Fields: fields})
        return false
    }
    return true
}

// fieldPath drops the struct name validator puts in front of the namespace.
func fieldPath(ns string) string {
    if i := strings.IndexByte(ns, '.'); i >= 0 {
        return ns[i+1:]
    }
    return ns
}
