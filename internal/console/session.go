package console

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/packageml/packageml/internal/guard"
)

type loginForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Next     string `json:"next" form:"next" query:"next"`
}

type registerForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Confirm  string `json:"confirm_password" form:"confirm_password"`
}

// getLogin describes the login form. A session that is already valid skips it.
func (s *Server) getLogin(c echo.Context) error {
	next := guard.SafeNext(c.QueryParam(guard.NextParam), dashboardPath)
	if s.app.Session.IsAuthenticated() {
		return c.Redirect(http.StatusFound, next)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"fields": []string{"email", "password"},
		"next":   next,
	})
}

// postLogin logs in and returns to the page that asked for it.
func (s *Server) postLogin(c echo.Context) error {
	var form loginForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	user, err := s.app.Login(c.Request().Context(), form.Email, form.Password)
	if err != nil {
		// A wrong password is a form error here, not an expired session.
		if statusOf(err) == http.StatusUnauthorized {
			return echo.NewHTTPError(http.StatusBadRequest, messageOf(err))
		}
		return err
	}
	s.log.WithField("user", user.Email).Info("console login")
	return c.Redirect(http.StatusSeeOther, guard.SafeNext(form.Next, dashboardPath))
}

func (s *Server) postLogout(c echo.Context) error {
	if err := s.app.Logout(); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, loginPath)
}

func (s *Server) postRegister(c echo.Context) error {
	var form registerForm
	if err := c.Bind(&form); err != nil {
		return err
	}
	user, err := s.app.Register(c.Request().Context(), form.Email, form.Password, form.Confirm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":    user,
		"message": "Registration successful. Please sign in.",
	})
}

// getSession reports the session state without triggering validation.
func (s *Server) getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.app.Session.Snapshot())
}
