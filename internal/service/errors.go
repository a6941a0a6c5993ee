package service

import (
	"errors"
	"net/http"

	"checkout-service/internal/gateway"
	"checkout-service/internal/orderstate"
	"checkout-service/internal/repository"
)

// Errores de negocio exportados (los usa el controller)
var (
	ErrForbidden                = errors.New("forbidden")
	ErrOrderAlreadyExists       = errors.New("la orden ya fue inicializada previamente")
	ErrOrderNotFound            = errors.New("orden no encontrada")
	ErrAttemptAlreadyInProgress = errors.New("ya hay un intento de pago en curso")
	ErrAmountMismatch           = errors.New("el monto no coincide con el total de la orden")
	ErrRetryNotAllowed          = errors.New("solo se puede reintentar un pago fallido")
	ErrInvalidOrder             = errors.New("orden inválida")
)

// Kind agrupa errores por la respuesta que merecen.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindIntegrity
	KindConflict
	KindTransient
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindIntegrity:
		return "integrity"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPStatus es el código que devuelve la API para cada Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindIntegrity:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Classify mapea cualquier error del dominio a su Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, gateway.ErrSignatureMismatch):
		return KindIntegrity
	case errors.Is(err, gateway.ErrProviderUnavailable):
		return KindTransient
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrAttemptAlreadyInProgress),
		errors.Is(err, ErrOrderAlreadyExists),
		errors.Is(err, ErrRetryNotAllowed),
		errors.Is(err, ErrFinalState),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, orderstate.ErrInvalidTransition):
		return KindConflict
	case errors.Is(err, gateway.ErrAmountOutOfRange),
		errors.Is(err, gateway.ErrUnsupportedGateway),
		errors.Is(err, gateway.ErrMissingField),
		errors.Is(err, gateway.ErrCODUnavailable),
		errors.Is(err, gateway.ErrProviderRejected),
		errors.Is(err, gateway.ErrVerificationUnsupported),
		errors.Is(err, orderstate.ErrUnknownState),
		errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrInvalidOrder):
		return KindValidation
	default:
		return KindInternal
	}
}
