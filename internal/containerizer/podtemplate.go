package containerizer

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	corev1 "k8s.io/api/core/v1"
	sigsyaml "sigs.k8s.io/yaml"
)

// defaultPodTemplate renders the pod for a dev-mode or build container.
const defaultPodTemplate = `apiVersion: v1
kind: Pod
metadata:
  name: {{ .Name }}
  namespace: {{ .Namespace }}
  labels:
{{- range $k, $v := .Labels }}
    {{ $k | quote }}: {{ $v | quote }}
{{- end }}
spec:
  restartPolicy: Never
{{- if .ServiceAccount }}
  serviceAccountName: {{ .ServiceAccount }}
{{- end }}
  containers:
    - name: {{ .Name }}
      image: {{ .Image }}
      imagePullPolicy: IfNotPresent
{{- with .Command }}
      command: {{ toJson . }}
{{- end }}
{{- with .Env }}
      env:
{{- range $k, $v := . }}
        - name: {{ $k }}
          value: {{ $v | quote }}
{{- end }}
{{- end }}
{{- with .Ports }}
      ports:
{{- range . }}
        - containerPort: {{ . }}
          protocol: TCP
{{- end }}
{{- end }}
`

// podTemplateData is the data passed to the pod template.
type podTemplateData struct {
	ContainerConfig
	Namespace string
}

// loadPodTemplate parses the template at path, or the built-in one when
// path is empty.
func loadPodTemplate(path string) (*template.Template, error) {
	text := defaultPodTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pod template %s: %w", path, err)
		}
		text = string(data)
	}
	tmpl, err := template.New("pod").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pod template: %w", err)
	}
	return tmpl, nil
}

// renderPod executes tmpl and decodes the result into a Pod.
func renderPod(tmpl *template.Template, cfg ContainerConfig, namespace string) (*corev1.Pod, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, podTemplateData{ContainerConfig: cfg, Namespace: namespace}); err != nil {
		return nil, fmt.Errorf("failed to render pod %s: %w", cfg.Name, err)
	}

	pod := &corev1.Pod{}
	if err := sigsyaml.Unmarshal(buf.Bytes(), pod); err != nil {
		return nil, fmt.Errorf("failed to decode rendered pod %s: %w", cfg.Name, err)
	}
	return pod, nil
}
