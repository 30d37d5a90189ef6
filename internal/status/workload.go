package status

// DeploymentStatus describes a project's Deployment on a Kubernetes cluster.
type DeploymentStatus struct {
	ProjectID           string        `json:"projectId"`
	Namespace           string        `json:"namespace"`
	Env                 string        `json:"env"`
	Cluster             string        `json:"cluster"`
	Image               string        `json:"image,omitempty"`
	Replicas            int           `json:"replicas"`
	ReadyReplicas       int           `json:"readyReplicas"`
	UnavailableReplicas int           `json:"unavailableReplicas"`
	Type                ContainerType `json:"type"`
}

// Key identifies the deployment within all tracked clusters.
func (d DeploymentStatus) Key() string {
	return workloadKey(d.ProjectID, d.Namespace, d.Env)
}

// ServiceStatus describes a project's Service on a Kubernetes cluster.
type ServiceStatus struct {
	ProjectID  string `json:"projectId"`
	Namespace  string `json:"namespace"`
	Env        string `json:"env"`
	Cluster    string `json:"cluster"`
	Port       int    `json:"port"`
	TargetPort int    `json:"targetPort"`
	ClusterIP  string `json:"clusterIP,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Key identifies the service within all tracked clusters.
func (s ServiceStatus) Key() string {
	return workloadKey(s.ProjectID, s.Namespace, s.Env)
}

func workloadKey(projectID, namespace, env string) string {
	return projectID + ":" + namespace + ":" + env
}
