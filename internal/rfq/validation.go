package rfq

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
)

const (
	// MinQuantity is the smallest quantity a line item may request.
	MinQuantity = 100
	// MinLeadDays is the minimum gap between creation and expected delivery.
	MinLeadDays = 30
)

var phonePattern = regexp.MustCompile(`^(\+84|0)[1-9][0-9]{8,9}$`)

// ValidationError carries per-field messages keyed by JSON path.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap ties the error to the shared validation sentinel.
func (e *ValidationError) Unwrap() error { return httpx.ErrValidation }

// FieldErrors exposes the messages to the HTTP layer.
func (e *ValidationError) FieldErrors() map[string]string { return e.Fields }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("minqty", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() >= MinQuantity
	})
	_ = v.RegisterValidation("vnphone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(NormalizePhone(fl.Field().String()))
	})
	return v
}

// NormalizePhone strips the separators customers commonly type.
func NormalizePhone(raw string) string {
	return strings.NewReplacer(" ", "", ".", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
}

// DateOnly truncates t to its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EarliestDeliveryDate is the first acceptable delivery date for an RFQ created at createdAt.
func EarliestDeliveryDate(createdAt time.Time) time.Time {
	return DateOnly(createdAt).AddDate(0, 0, MinLeadDays)
}

// ValidateCreate checks a new RFQ as if created at now.
func ValidateCreate(req CreateRFQRequest, now time.Time) error {
	verr := &ValidationError{}
	collect(verr, validate.Struct(req))
	checkDelivery(verr, req.ExpectedDeliveryDate, now)
	return verr.orNil()
}

// ValidateUpdate re-runs the full rule set for an edit of an RFQ created at createdAt.
func ValidateUpdate(req UpdateRFQRequest, createdAt time.Time) error {
	verr := &ValidationError{}
	collect(verr, validate.Struct(req))
	checkDelivery(verr, req.ExpectedDeliveryDate, createdAt)
	return verr.orNil()
}

// ValidateVerdict checks a Planning capacity verdict against the RFQ's current
// expected delivery date.
func ValidateVerdict(v CapacityVerdict, currentDelivery time.Time) error {
	verr := &ValidationError{}
	collect(verr, validate.Struct(v))
	if v.Status == CapacityInsufficient && (v.Reason == nil || strings.TrimSpace(*v.Reason) == "") {
		verr.add("reason", "is required when capacity is insufficient")
	}
	if v.ProposedNewDate != nil {
		if v.Status != CapacityInsufficient {
			verr.add("proposed_new_date", "is only allowed with an insufficient verdict")
		} else if DateOnly(*v.ProposedNewDate).Before(DateOnly(currentDelivery)) {
			verr.add("proposed_new_date", "must not be earlier than the current expected delivery date")
		}
	}
	return verr.orNil()
}

// ValidateReconfirm checks the delivery date Sales resubmits with after a
// capacity rejection. The date must move past the rejected one, and when
// Planning proposed a date, the new one may not be earlier.
func ValidateReconfirm(req ReconfirmRequest, r *RFQ) error {
	verr := &ValidationError{}
	collect(verr, validate.Struct(req))
	checkDelivery(verr, req.ExpectedDeliveryDate, r.CreatedAt)
	if req.ExpectedDeliveryDate.IsZero() {
		return verr.orNil()
	}
	next := DateOnly(req.ExpectedDeliveryDate)
	switch {
	case !next.After(DateOnly(r.ExpectedDeliveryDate)):
		verr.add("expected_delivery_date", "must be later than the rejected delivery date")
	case r.ProposedNewDeliveryDate != nil && next.Before(DateOnly(*r.ProposedNewDeliveryDate)):
		verr.add("expected_delivery_date", "must not be earlier than the date proposed by planning")
	}
	return verr.orNil()
}

func checkDelivery(verr *ValidationError, delivery, createdAt time.Time) {
	if delivery.IsZero() {
		return
	}
	earliest := EarliestDeliveryDate(createdAt)
	if DateOnly(delivery).Before(earliest) {
		verr.add("expected_delivery_date", fmt.Sprintf("must be on or after %s", earliest.Format(time.DateOnly)))
	}
}

func collect(verr *ValidationError, err error) {
	if err == nil {
		return
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		verr.add("_", err.Error())
		return
	}
	for _, fe := range errs {
		verr.add(fieldPath(fe.Namespace()), message(fe))
	}
}

func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "minqty":
		return fmt.Sprintf("must be at least %d", MinQuantity)
	case "vnphone":
		return "is not a valid phone number"
	case "email":
		return "is not a valid email address"
	case "max":
		return "is too long"
	case "min":
		return "must contain at least " + fe.Param() + " entry"
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}
