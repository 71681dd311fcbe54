package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "accounts/pkg/test"

	"accounts/internal/adapter/database/sqlite/repository"
	"accounts/internal/adapter/http/handler"
	"accounts/internal/adapter/http/routes"
	"accounts/internal/core/model/response"
	"accounts/internal/core/service"
	"accounts/internal/core/telemetry"
	"accounts/internal/core/util"
	"accounts/pkg/auth"
	"accounts/pkg/config"
	"accounts/pkg/db/cursor"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type AccountHandlerSuite struct {
	suite.Suite
	Router *gin.Engine
	Issuer *auth.Issuer
}

func (s *AccountHandlerSuite) SetupTest() {
	db := InitTestDB(s.T())
	probe := telemetry.NewNoOpProbe()

	issuer, err := auth.NewIssuer([]byte(strings.Repeat("k", auth.MinSecretBytes)), auth.DefaultTokenTTL)
	s.Require().NoError(err)

	svc, err := service.NewAccountService(service.AccountServiceDeps{
		Repo:      repository.NewAccountRepository(db, probe),
		Hasher:    util.NewBcryptHasher(bcrypt.MinCost),
		Keys:      util.NewAPIKeyGenerator(),
		Tokens:    issuer,
		Cursors:   cursor.NewCodec([]byte("cursor-secret")),
		Telemetry: probe,
	})
	s.Require().NoError(err)

	s.Issuer = issuer
	s.Router = routes.SetupRouterForTests(routes.HandlersConfig{
		AccountHandler: handler.NewAccountHandler(svc, config.NewNopLogger()),
		Issuer:         issuer,
	})
}

func TestAccountHandlerSuite(t *testing.T) {
	RegisterTestingT(t)
	suite.Run(t, new(AccountHandlerSuite))
}

func (s *AccountHandlerSuite) do(method, path, body, token string) (*httptest.ResponseRecorder, gin.H) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	data := gin.H{}
	json.Unmarshal(rr.Body.Bytes(), &data)

	return rr, data
}

func (s *AccountHandlerSuite) register(name, email string) map[string]any {
	rr, data := s.do("POST", "/clients", `{"name":"`+name+`","email":"`+email+`","password":"secret-pass"}`, "")
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	return data["data"].(map[string]any)
}

func (s *AccountHandlerSuite) tokenFor(id string) string {
	token, _, err := s.Issuer.Issue(id, "tester")
	s.Require().NoError(err)

	return token
}

func (s *AccountHandlerSuite) TestRegisterSuccess() {
	view := s.register("Ann", "ann@example.com")

	Expect(view["email"]).To(Equal("ann@example.com"))
	Expect(view["apiKey"]).NotTo(BeEmpty())
	Expect(view).NotTo(HaveKey("passwordHash"))
	Expect(view).NotTo(HaveKey("password"))
}

func (s *AccountHandlerSuite) TestRegisterValidationError() {
	rr, _ := s.do("POST", "/clients", `{"name":"Ann","email":"invalid-email","password":"x"}`, "")

	Expect(rr.Code).To(Equal(http.StatusBadRequest))

	data := response.ErrorResponse{}
	json.Unmarshal(rr.Body.Bytes(), &data)

	Expect(data.Error.Code).To(Equal("VALIDATION_ERROR"))
	Expect(data.Error.Errors).To(ContainElement(HaveField("Field", "email")))
}

func (s *AccountHandlerSuite) TestRegisterMalformedJSON() {
	rr, _ := s.do("POST", "/clients", `{"name":`, "")

	Expect(rr.Code).To(Equal(http.StatusBadRequest))
}

func (s *AccountHandlerSuite) TestRegisterDuplicateEmail() {
	s.register("Ann", "ann@example.com")

	rr, data := s.do("POST", "/clients", `{"name":"Other","email":"ann@example.com","password":"secret-pass"}`, "")

	Expect(rr.Code).To(Equal(http.StatusConflict))
	Expect(data["error"].(map[string]any)["code"]).To(Equal("CONFLICT"))
}

func (s *AccountHandlerSuite) TestLoginSuccess() {
	s.register("Ann", "ann@example.com")

	rr, data := s.do("POST", "/clients/login", `{"email":"ann@example.com","password":"secret-pass"}`, "")

	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(data["message"]).To(Equal("Welcome Ann"))

	session := data["data"].(map[string]any)
	Expect(session["access_token"]).NotTo(BeEmpty())
	Expect(session["expires_in"]).To(BeNumerically("==", auth.DefaultTokenTTL.Seconds()))
	Expect(session["user"].(map[string]any)["email"]).To(Equal("ann@example.com"))
}

func (s *AccountHandlerSuite) TestLoginFailuresLookTheSame() {
	s.register("Ann", "ann@example.com")

	wrong, wrongBody := s.do("POST", "/clients/login", `{"email":"ann@example.com","password":"nope"}`, "")
	unknown, unknownBody := s.do("POST", "/clients/login", `{"email":"bob@example.com","password":"nope"}`, "")

	Expect(wrong.Code).To(Equal(http.StatusUnauthorized))
	Expect(unknown.Code).To(Equal(http.StatusUnauthorized))
	Expect(wrongBody).To(Equal(unknownBody))
}

func (s *AccountHandlerSuite) TestGetByAPIKey() {
	view := s.register("Ann", "ann@example.com")

	rr, data := s.do("GET", "/clients/by-api-key/"+view["apiKey"].(string), "", "")

	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(data["data"].(map[string]any)["id"]).To(Equal(view["id"]))

	rr, _ = s.do("GET", "/clients/by-api-key/UNKNOWNKEY", "", "")
	Expect(rr.Code).To(Equal(http.StatusNotFound))
}

func (s *AccountHandlerSuite) TestProtectedRoutesRequireToken() {
	rr, _ := s.do("GET", "/clients", "", "")
	Expect(rr.Code).To(Equal(http.StatusUnauthorized))

	rr, _ = s.do("GET", "/clients", "", "garbage")
	Expect(rr.Code).To(Equal(http.StatusUnauthorized))
}

func (s *AccountHandlerSuite) TestGetByID() {
	view := s.register("Ann", "ann@example.com")
	token := s.tokenFor(view["id"].(string))

	rr, data := s.do("GET", "/clients/"+view["id"].(string), "", token)
	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(data["data"].(map[string]any)["name"]).To(Equal("Ann"))

	rr, _ = s.do("GET", "/clients/missing", "", token)
	Expect(rr.Code).To(Equal(http.StatusNotFound))
}

func (s *AccountHandlerSuite) TestListPaginates() {
	var token string
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		view := s.register("Person", email)
		token = s.tokenFor(view["id"].(string))
	}

	rr, first := s.do("GET", "/clients?limit=2", "", token)
	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(first["size"]).To(BeNumerically("==", 2))

	pagination := first["pagination"].(map[string]any)
	Expect(pagination["has_next"]).To(BeTrue())

	rr, second := s.do("GET", "/clients?limit=2&cursor="+pagination["next_cursor"].(string), "", token)
	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(second["size"]).To(BeNumerically("==", 1))
	Expect(second["pagination"].(map[string]any)["has_next"]).To(BeFalse())
}

func (s *AccountHandlerSuite) TestListRejectsBadInput() {
	view := s.register("Ann", "ann@example.com")
	token := s.tokenFor(view["id"].(string))

	rr, _ := s.do("GET", "/clients?limit=abc", "", token)
	Expect(rr.Code).To(Equal(http.StatusBadRequest))

	rr, _ = s.do("GET", "/clients?cursor=forged.token", "", token)
	Expect(rr.Code).To(Equal(http.StatusBadRequest))
}

func (s *AccountHandlerSuite) TestUpdateProfile() {
	view := s.register("Ann", "ann@example.com")
	id := view["id"].(string)

	rr, data := s.do("PUT", "/clients/"+id, `{"name":"Annie"}`, s.tokenFor(id))

	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(data["data"].(map[string]any)["name"]).To(Equal("Annie"))
	Expect(data["data"].(map[string]any)["email"]).To(Equal("ann@example.com"))
}

func (s *AccountHandlerSuite) TestUpdateProfileOfAnotherAccountIsForbidden() {
	ann := s.register("Ann", "ann@example.com")
	bob := s.register("Bob", "bob@example.com")

	rr, _ := s.do("PUT", "/clients/"+ann["id"].(string), `{"name":"Hijacked"}`, s.tokenFor(bob["id"].(string)))

	Expect(rr.Code).To(Equal(http.StatusForbidden))
}

func (s *AccountHandlerSuite) TestUpdateUsageMerges() {
	view := s.register("Ann", "ann@example.com")
	id := view["id"].(string)
	token := s.tokenFor(id)

	rr, _ := s.do("PUT", "/clients/"+id+"/usage", `{"usageCounters":{"calls":1},"permissionMatrix":{"reports":true}}`, token)
	Expect(rr.Code).To(Equal(http.StatusOK))

	rr, data := s.do("PUT", "/clients/"+id+"/usage", `{"usageCounters":{"errors":2}}`, token)
	Expect(rr.Code).To(Equal(http.StatusOK))

	updated := data["data"].(map[string]any)
	Expect(updated["usageCounters"]).To(Equal(map[string]any{"calls": 1.0, "errors": 2.0}))
	Expect(updated["permissionMatrix"]).To(Equal(map[string]any{"reports": true}))
}

func (s *AccountHandlerSuite) TestUpdateUsageMissingAccount() {
	view := s.register("Ann", "ann@example.com")

	rr, _ := s.do("PUT", "/clients/missing/usage", `{"usageCounters":{"calls":1}}`, s.tokenFor(view["id"].(string)))

	Expect(rr.Code).To(Equal(http.StatusNotFound))
}

func (s *AccountHandlerSuite) TestChangePassword() {
	view := s.register("Ann", "ann@example.com")
	id := view["id"].(string)
	token := s.tokenFor(id)

	rr, _ := s.do("PATCH", "/clients/"+id+"/password", `{"oldPassword":"wrong","newPassword":"next-pass"}`, token)
	Expect(rr.Code).To(Equal(http.StatusUnauthorized))

	rr, data := s.do("PATCH", "/clients/"+id+"/password", `{"oldPassword":"secret-pass","newPassword":"next-pass"}`, token)
	Expect(rr.Code).To(Equal(http.StatusOK))
	Expect(data["message"]).To(Equal("Password updated"))

	rr, _ = s.do("POST", "/clients/login", `{"email":"ann@example.com","password":"next-pass"}`, "")
	Expect(rr.Code).To(Equal(http.StatusOK))
}
