package graph

import "github.com/rendis/varflow/pkg/schema"

// InitParams are the run-level identifiers every node receives. The engine
// passes them through without interpreting them.
type InitParams struct {
	TenantID     string
	AppID        string
	WorkflowType schema.WorkflowType
	WorkflowID   string
	GraphConfig  *schema.GraphConfig
	UserID       string
	UserFrom     schema.UserFrom
	InvokeFrom   schema.InvokeFrom
	CallDepth    int
}
