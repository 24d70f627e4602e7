// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

const (
	ConfigLoadFailedId Id = iota + 1
	ContainerEngineNotFoundId
	ContainerNotFoundId
	ContainerNotRunningId
	MissingJWTSecretId
	ListenFailedId
	ProvisioningFailedId
)

type (
	// Id identifies a catalogued issue.
	Id int

	// MarkdownMsg is the Markdown body of an issue.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string

	// Issue is a user-facing explanation of a failure with remediation steps.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the issue identifier.
func (i *Issue) Id() Id { return i.id }

// MarkdownMsg returns the raw Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the issue for a terminal using the named glamour style
// ("dark", "light", "notty" or a JSON style path).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

The panel reads ` + "`config.cue`" + ` from the config directory or the working directory
and validates it before starting.

## Things you can try:
- Print the effective configuration:
~~~
$ hytale-panel config show
~~~
- Write a fresh default file and compare:
~~~
$ hytale-panel config init
~~~
- Remember that HYTALE_PANEL_* environment variables override file values`,
		docLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine found

Neither ` + "`docker`" + ` nor ` + "`podman`" + ` is on the PATH, so the game server container
cannot be reached.

## Things you can try:
- Install Docker or Podman
- Set ` + "`container.engine`" + ` to the engine you have installed
- Make sure the panel user may talk to the engine socket`,
		docLinks: []HttpLink{"https://docs.docker.com/engine/install/", "https://podman.io/docs/installation"},
	}

	containerNotFoundIssue = &Issue{
		id: ContainerNotFoundId,
		mdMsg: `
# Game server container not found

The engine has no container with the configured name.

## Things you can try:
- List containers and check the name:
~~~
$ docker ps -a
~~~
- Set ` + "`container.name`" + ` or HYTALE_PANEL_CONTAINER_NAME to the right name`,
	}

	containerNotRunningIssue = &Issue{
		id: ContainerNotRunningId,
		mdMsg: `
# Game server container is not running

Provisioning runs commands inside the container, so it has to be started first.

## Things you can try:
- Start the container:
~~~
$ docker start hytale
~~~
- Check its logs if it keeps exiting`,
	}

	missingJWTSecretIssue = &Issue{
		id: MissingJWTSecretId,
		mdMsg: `
# No JWT secret configured

Observers authenticate with tokens signed by ` + "`auth.jwt_secret`" + `.

## Things you can try:
- Export a secret:
~~~
$ export HYTALE_PANEL_AUTH_JWT_SECRET="$(openssl rand -hex 32)"
~~~
- Or set ` + "`auth.disabled: true`" + ` when the panel sits behind another auth layer`,
	}

	listenFailedIssue = &Issue{
		id: ListenFailedId,
		mdMsg: `
# The panel could not listen on its port

Another process probably holds the address.

## Things you can try:
- Pick another port with ` + "`--port`" + ` or ` + "`server.port`" + `
- Find the process holding it:
~~~
$ ss -ltnp
~~~`,
	}

	provisioningFailedIssue = &Issue{
		id: ProvisioningFailedId,
		mdMsg: `
# Provisioning did not finish

The download or the extraction ended in an error state.

## Things you can try:
- Check whether the files are already in place:
~~~
$ hytale-panel check
~~~
- Wipe partial data and start over:
~~~
$ hytale-panel wipe && hytale-panel provision
~~~
- Complete the device authorization promptly when asked`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		containerNotFoundIssue.Id():       containerNotFoundIssue,
		containerNotRunningIssue.Id():     containerNotRunningIssue,
		missingJWTSecretIssue.Id():        missingJWTSecretIssue,
		listenFailedIssue.Id():            listenFailedIssue,
		provisioningFailedIssue.Id():      provisioningFailedIssue,
	}
)

// Values returns every catalogued issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for v := range maps.Values(issues) {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the issue with the given id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
