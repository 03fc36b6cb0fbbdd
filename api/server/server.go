package server

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/api/service"
)

// Server defines an instance of a server that handles the requests of
// the third-party application.
type Server struct {
	port   int
	engine *gin.Engine
}

// New returns a new instance of the server.
func New(port int, service *service.Service) *Server {
	server := &Server{
		port:   port,
		engine: gin.Default(),
	}

	server.registerRouter(service)
	return server
}

func (s *Server) registerRouter(service *service.Service) {
	s.engine.Use(handleError())
	s.engine.GET("metrics", gin.WrapH(promhttp.Handler()))

	g := s.engine.Group("swap/v1")
	g.GET("ping", s.handle(service.Ping))
	g.GET("orders", s.handle(service.Orders))
	g.GET("order", s.handle(service.Order))
	g.GET("htlc", s.handle(service.HTLC))
	g.GET("deposits", s.handle(service.Deposits))
	g.GET("deposits/locks", s.handle(service.DepositLocks))
	g.POST("deposits/slash", s.handle(service.SlashDeposit))
	g.GET("stats", s.handle(service.Stats))
}

// Run the server
func (s *Server) Run() {
	if err := s.engine.Run(fmt.Sprintf(":%d", s.port)); err != nil {
		log.Error("run the server failed", "error", err)
		os.Exit(1)
	}
}
