// Entrypoint for the OIDC/OAuth2 provider, scaffolded the way
// growthapi.go boots the gateway service: load config, build the
// ServiceContext once, register routes, serve.
package main

import (
	"flag"
	"fmt"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/rest"

	"github.com/nordauth/oidcore/internal/config"
	"github.com/nordauth/oidcore/internal/handler"
	"github.com/nordauth/oidcore/internal/svc"
)

var configFile = flag.String("f", "etc/oidcore.yaml", "the config file")

func main() {
	flag.Parse()

	var c config.Config
	conf.MustLoad(*configFile, &c)

	server := rest.MustNewServer(c.RestConf, rest.WithCors("*"))
	defer server.Stop()

	ctx := svc.NewServiceContext(c)
	handler.RegisterHandlers(server, ctx)

	fmt.Printf("Starting server at %s:%d...\n", c.Host, c.Port)
	server.Start()
}
