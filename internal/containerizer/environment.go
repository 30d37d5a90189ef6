package containerizer

import (
	"os"
)

// Environment describes where the karavan process itself runs. It is
// detected once at startup and handed to the components that need it.
type Environment struct {
	InKubernetes bool
	InDocker     bool
}

// DetectEnvironment inspects the current process environment.
func DetectEnvironment() Environment {
	return detectEnvironment(os.Getenv, os.Stat)
}

func detectEnvironment(getenv func(string) string, stat func(string) (os.FileInfo, error)) Environment {
	env := Environment{
		InKubernetes: getenv("KUBERNETES_SERVICE_HOST") != "",
	}
	if !env.InKubernetes {
		if _, err := stat("/.dockerenv"); err == nil {
			env.InDocker = true
		}
	}
	return env
}

// String is used in startup logs.
func (e Environment) String() string {
	switch {
	case e.InKubernetes:
		return "kubernetes"
	case e.InDocker:
		return "docker"
	default:
		return "local"
	}
}
