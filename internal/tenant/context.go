// Package tenant holds the immutable identity of the workload running
// inside a cage. It is resolved once at boot and threaded explicitly
// through constructors rather than kept as a package-level singleton.
package tenant

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cagemesh/fabric/internal/cagerr"
)

// CageContext is the {team, app, cage} identity tuple carried on every
// call to E3.
type CageContext struct {
	TeamUUID string
	AppUUID  string
	CageUUID string
	CageName string
}

// Load resolves the CageContext from the process environment. It
// returns cagerr.ErrMissingCageContext if any field is unresolvable,
// matching the source's requirement that the crypto API facade refuse
// to start without a complete tenant identity.
func Load() (*CageContext, error) {
	ctx := &CageContext{
		TeamUUID: os.Getenv("CAGE_TEAM_UUID"),
		AppUUID:  os.Getenv("CAGE_APP_UUID"),
		CageUUID: os.Getenv("CAGE_UUID"),
		CageName: os.Getenv("CAGE_NAME"),
	}

	if ctx.TeamUUID == "" || ctx.AppUUID == "" || ctx.CageUUID == "" || ctx.CageName == "" {
		return nil, fmt.Errorf("%w: CAGE_TEAM_UUID, CAGE_APP_UUID, CAGE_UUID and CAGE_NAME must all be set", cagerr.ErrMissingCageContext)
	}

	return ctx, nil
}

// Payload is the opaque body attached to every E3 call: the customer's
// JSON data alongside the tenant identity that scopes it.
type Payload struct {
	Data []byte // raw JSON, nil means the field serializes as null
}

type requestBody struct {
	Data     json.RawMessage `json:"data"`
	TeamUUID string          `json:"team_uuid"`
	AppUUID  string          `json:"app_uuid"`
}

// RequestBody builds the {"data", "team_uuid", "app_uuid"} JSON object
// E3 expects, regardless of what Data contains. team_uuid and app_uuid
// always equal the process tenant context.
func (c *CageContext) RequestBody(data []byte) ([]byte, error) {
	raw := json.RawMessage("null")
	if len(data) > 0 {
		raw = json.RawMessage(data)
	}

	return json.Marshal(requestBody{Data: raw, TeamUUID: c.TeamUUID, AppUUID: c.AppUUID})
}
