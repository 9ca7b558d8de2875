// Package endpoints holds the endpoints every relay node serves.
package endpoints

import (
	"context"
	"errors"
	"fmt"
	"strings"

	runtimepkg "github.com/drblury/protorelay/internal/runtime"
	"github.com/drblury/protorelay/internal/runtime/handlers"
)

const (
	// IdentifyTopic asks every node to announce its cluster id.
	IdentifyTopic = "IDENTIFY"
	// InformationPrefix is joined with a cluster id to address one node's
	// information endpoint.
	InformationPrefix = "CLUSTER_"
)

// ErrClusterIDRequired is returned when a node-addressed endpoint is built
// for a service without a cluster id.
var ErrClusterIDRequired = errors.New("cluster id is required")

// IdentifyReply is the IDENTIFY response.
type IdentifyReply struct {
	ClusterID string `json:"cluster_id"`
}

// Identify replies with the node's cluster id. Requests carrying a
// target_cluster_id for another node get no reply.
func Identify() runtimepkg.EndpointFactory {
	return func(svc *runtimepkg.Service) (runtimepkg.Endpoint, error) {
		clusterID := svc.ClusterID()
		return handlers.NewFuncEndpoint(IdentifyTopic, func(_ context.Context, req *runtimepkg.Request) (any, error) {
			if data, ok := req.Payload.Map(); ok {
				if target, ok := data["target_cluster_id"]; ok && target != nil && fmt.Sprint(target) != clusterID {
					return nil, nil
				}
			}
			return IdentifyReply{ClusterID: clusterID}, nil
		})
	}
}

// InformationTopic returns the information channel for clusterID.
func InformationTopic(clusterID string) string {
	return InformationPrefix + strings.ToUpper(clusterID)
}

// Information serves the node summary on CLUSTER_<cluster id>.
func Information() runtimepkg.EndpointFactory {
	return func(svc *runtimepkg.Service) (runtimepkg.Endpoint, error) {
		if svc.ClusterID() == "" {
			return nil, ErrClusterIDRequired
		}
		return handlers.NewFuncEndpoint(InformationTopic(svc.ClusterID()), func(context.Context, *runtimepkg.Request) (any, error) {
			return svc.Info(), nil
		})
	}
}

// Echo replies with the request data unchanged.
func Echo(topic any) runtimepkg.EndpointFactory {
	return handlers.Raw(topic, func(_ context.Context, req *runtimepkg.Request) (any, error) {
		return req.Payload.Raw, nil
	})
}

// Builtins returns the endpoints a node registers by default.
func Builtins() []runtimepkg.EndpointFactory {
	return []runtimepkg.EndpointFactory{Identify(), Information()}
}
