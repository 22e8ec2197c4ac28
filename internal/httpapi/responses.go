package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxBodyBytes caps request bodies. A full 10k-item job submission and any
// reasonable TMX upload fit well under it.
const maxBodyBytes = 8 << 20

type successEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type failEnvelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, successEnvelope{Status: "success", Data: data})
}

func accepted(c echo.Context, data any) error {
	return c.JSON(http.StatusAccepted, successEnvelope{Status: "success", Data: data})
}

func fail(c echo.Context, status int, message string, fields map[string]string) error {
	return c.JSON(status, failEnvelope{Status: "fail", Message: message, Fields: fields})
}

func failValidation(c echo.Context, fields map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", fields)
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func internalError(c echo.Context, message string) error {
	return fail(c, http.StatusInternalServerError, message, nil)
}

// decodeJSONBody reads a size-capped JSON body into dest. Unknown fields and
// trailing content are rejected.
func decodeJSONBody(c echo.Context, dest any) error {
	decoder := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("body contains trailing content")
	}
	return nil
}
