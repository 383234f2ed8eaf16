// README: Request binding rules; ids are validated by gin's validator with a resource_id tag.
package handlers

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// resourceIDPattern matches the ids this service issues (uuids) and the slugs used for
// seeded catalog rows.
var resourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("resource_id", func(fl validator.FieldLevel) bool {
			return resourceIDPattern.MatchString(fl.Field().String())
		})
	}
}

type idURI struct {
	ID string `uri:"id" binding:"required,max=64,resource_id"`
}

type cardURI struct {
	UID string `uri:"uid" binding:"required,max=64,resource_id"`
}

// bindID reads the :id path parameter, writing a 400 when it is malformed.
func bindID(c *gin.Context) (string, bool) {
	var p idURI
	if err := c.ShouldBindUri(&p); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid id")
		return "", false
	}
	return p.ID, true
}

func bindCardUID(c *gin.Context) (string, bool) {
	var p cardURI
	if err := c.ShouldBindUri(&p); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid uid")
		return "", false
	}
	return p.UID, true
}
