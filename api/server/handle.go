package server

import (
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/api/pagination"
	"github.com/chainrelay/swap-coordinator/api/service"
)

// handleFunc is a service endpoint in one of the accepted shapes:
//
//	func(c *gin.Context) error
//	func(c *gin.Context, req *T) error
//	func(c *gin.Context, req *T) (*R, error)
//	func(c *gin.Context, req *T, page *pagination.Query) (*pagination.Result, error)
//
// The request struct pointer is bound from the query string and body;
// the pagination query, when present, is bound and normalized before the
// call.
type handleFunc interface{}

var (
	ginCtxType     = reflect.TypeOf(&gin.Context{})
	pageQueryType  = reflect.TypeOf(&pagination.Query{})
	pageResultType = reflect.TypeOf(&pagination.Result{})
	errType        = reflect.TypeOf((*error)(nil)).Elem()
)

func validateFunc(fn handleFunc) error {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return errors.Errorf("handler is %v, not a function", t)
	}

	if t.NumIn() < 1 || t.NumIn() > 3 {
		return errors.Errorf("handler takes %d parameters, want 1 to 3", t.NumIn())
	}

	if t.In(0) != ginCtxType {
		return errors.Errorf("first parameter is %v, want *gin.Context", t.In(0))
	}

	if t.NumIn() >= 2 && t.In(1).Kind() != reflect.Ptr {
		return errors.Errorf("second parameter is %v, want a pointer", t.In(1))
	}

	if t.NumIn() == 3 && t.In(2) != pageQueryType {
		return errors.Errorf("third parameter is %v, want *pagination.Query", t.In(2))
	}

	if t.NumOut() < 1 || t.NumOut() > 2 {
		return errors.Errorf("handler returns %d values, want 1 or 2", t.NumOut())
	}

	if t.Out(t.NumOut()-1) != errType {
		return errors.Errorf("last return value is %v, want error", t.Out(t.NumOut()-1))
	}

	if t.NumIn() == 3 && (t.NumOut() != 2 || t.Out(0) != pageResultType) {
		return errors.Errorf("paginated handler must return (*pagination.Result, error)")
	}

	return nil
}

// handle adapts a service endpoint into a gin handler. Invalid handler
// shapes are a programming error caught at route registration.
func (s *Server) handle(fn handleFunc) gin.HandlerFunc {
	if err := validateFunc(fn); err != nil {
		log.Fatal("registering api handler failed", "error", err)
	}

	fv := reflect.ValueOf(fn)
	ft := reflect.TypeOf(fn)

	return func(c *gin.Context) {
		args := make([]reflect.Value, 0, 3)
		args = append(args, reflect.ValueOf(c))

		for i := 1; i < ft.NumIn(); i++ {
			if ft.In(i) == pageQueryType {
				page := &pagination.Query{}
				if err := c.ShouldBindQuery(page); err != nil {
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
						"code": service.ErrorCode[service.ErrInvalidRequest],
						"msg":  err.Error(),
					})
					return
				}

				page.Normalize()
				args = append(args, reflect.ValueOf(page))
				continue
			}

			req := reflect.New(ft.In(i).Elem())
			if err := c.ShouldBind(req.Interface()); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"code": service.ErrorCode[service.ErrInvalidRequest],
					"msg":  err.Error(),
				})
				return
			}

			args = append(args, req)
		}

		rets := fv.Call(args)
		if errVal := rets[len(rets)-1]; !errVal.IsNil() {
			_ = c.Error(errVal.Interface().(error))
			return
		}

		if len(rets) == 2 {
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": rets[0].Interface(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"code": 0})
	}
}

// handleError maps service errors collected during the request to their
// stable numeric codes.
func handleError() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		code, ok := service.ErrorCode[err]
		status := http.StatusBadRequest
		if !ok {
			code = service.ErrorCode[service.ErrSystem]
			status = http.StatusInternalServerError
			log.Error("api request failed", "error", err)
		}

		c.JSON(status, gin.H{
			"code": code,
			"msg":  err.Error(),
		})
	}
}
