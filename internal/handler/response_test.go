package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Care_Community/internal/errs"
)

func TestFailStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
	}{
		{errs.Wrapf(errs.ErrInvalidArgument, "bad"), http.StatusBadRequest},
		{errs.ErrNotAuthorized, http.StatusForbidden},
		{errs.Wrapf(errs.ErrNotFound, "rule 3"), http.StatusNotFound},
		{errs.ErrRuleLocked, http.StatusConflict},
		{errs.ErrSlotClosed, http.StatusConflict},
		{errs.ErrInviteAlreadyBound, http.StatusConflict},
		{errs.ErrInviteExpired, http.StatusGone},
		{errs.ErrDeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		fail(c, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
	}
}

func TestFailHidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	fail(c, errors.New("dial tcp 10.0.0.3:3306: connection refused"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["code"])
	assert.Equal(t, "internal error", body["msg"])
}

func TestIDParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "0"}}

	_, ok := idParam(c, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c.Params = gin.Params{{Key: "id", Value: "17"}}
	id, ok := idParam(c, "id")
	assert.True(t, ok)
	assert.Equal(t, uint64(17), id)
}
