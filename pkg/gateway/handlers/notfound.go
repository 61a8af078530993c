package handlers

import (
	"net/http"

	"github.com/vango-go/vai-forms/pkg/gateway/apierror"
	"github.com/vango-go/vai-forms/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeAPIErrorJSON(w, reqID, &apierror.Error{
		Type:    apierror.TypeNotFound,
		Message: "not found",
	}, http.StatusNotFound)
}
