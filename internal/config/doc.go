// Package config provides configuration management for karavan.
//
// Configuration is loaded from config.yaml in a single directory. The
// default directory is ~/.config/karavan; the serve command accepts
// --config-path to point elsewhere. Values missing from the file keep
// their defaults, and a missing file yields the defaults unchanged.
//
// # Configuration Structure
//
//	environment: dev                     # Default environment of records
//	environments: [dev]                  # Environments reconciled by this instance
//	runtime:
//	  type: auto                         # auto, docker or kubernetes
//	  network: karavan                   # Engine network (docker)
//	  namespace: karavan                 # Namespace (kubernetes)
//	devmode:
//	  image: ghcr.io/apache/camel-karavan-devmode:4.14.2
//	  port: 8080
//	reconcile:
//	  interval: 2s
//	  transitWindow: 10s                 # Grace period for containers being created
//	statistics:
//	  enabled: true
//	  interval: 10s
//	  callTimeout: 5s
//	reload:
//	  callTimeout: 1s
//	  uploadRetries: 1
//	  breaker:
//	    requestVolumeThreshold: 10
//	    failureRatio: 0.5
//	    delay: 1s
//	cache:
//	  backend: memory                    # memory or redis
//	  redis:
//	    addr: localhost:6379
//	projects:
//	  root: projects
//	  watch: false                       # Reload projects when their files change
//	server:
//	  address: ":8081"
//
// Durations are Go duration strings.
//
// # Usage Examples
//
//	cfg, err := config.LoadConfig(config.GetDefaultConfigPathOrPanic())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Reconciling %v every %s\n", cfg.ManagedEnvironments(), cfg.Reconcile.Interval)
package config
