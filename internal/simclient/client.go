package simclient

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/densityaware/shockharness/internal/control"
	"github.com/densityaware/shockharness/internal/registry"
)

// #region constants
// ServicePrefix is the fully qualified gRPC service every method is invoked on.
const ServicePrefix = "/flowshock.sim.v1.Simulator/"

// DefaultTimeout bounds registry calls, which carry no context of their own.
const DefaultTimeout = 5 * time.Second

// #endregion constants

// #region client-struct
// Client drives a remote traffic simulator over gRPC. Requests and replies are
// google.protobuf.Struct messages, so no generated stubs are needed.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  io.Closer
	Timeout time.Duration

	step       int
	generation uint64
}

// #endregion client-struct

// #region constructor
// NewClient connects to the simulator's gRPC server.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewClientWithConn(conn)
	c.closer = conn
	return c, nil
}

// NewClientWithConn wraps an existing connection. Used for testing without a server.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, Timeout: DefaultTimeout}
}

// Close shuts down the gRPC connection if the client opened it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// #endregion constructor

// #region invoke
func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ServicePrefix+method, in, out); err != nil {
		return nil, fmt.Errorf("%s rpc: %w", method, err)
	}
	return out, nil
}

// call is invoke with the client timeout, for registry methods.
func (c *Client) call(method string, req map[string]any) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	return c.invoke(ctx, method, req)
}

// vehicleCall resolves h against the current generation before calling method.
func (c *Client) vehicleCall(method string, h registry.VehicleHandle, req map[string]any) (*structpb.Struct, error) {
	if h.Generation != c.generation {
		return nil, fmt.Errorf("%s %s: %w", method, h, registry.ErrStaleHandle)
	}
	req["id"] = h.ID
	out, err := c.call(method, req)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%s %s: %w", method, h, registry.ErrUnknownVehicle)
	}
	return out, err
}

// #endregion invoke

// #region sync
// Sync refreshes the cached step and registry generation.
func (c *Client) Sync(ctx context.Context) error {
	out, err := c.invoke(ctx, "Status", map[string]any{})
	if err != nil {
		return err
	}
	c.absorb(out)
	return nil
}

func (c *Client) absorb(out *structpb.Struct) {
	if v, ok := out.GetFields()["step"]; ok {
		c.step = int(v.GetNumberValue())
	}
	if v, ok := out.GetFields()["generation"]; ok {
		c.generation = uint64(v.GetNumberValue())
	}
}

// #endregion sync

// #region registry
// CurrentStep returns the step reported by the last Sync or Advance.
func (c *Client) CurrentStep() int {
	return c.step
}

// VehicleIDs lists the vehicles currently in the network.
func (c *Client) VehicleIDs() ([]registry.VehicleHandle, error) {
	out, err := c.call("VehicleIDs", map[string]any{})
	if err != nil {
		return nil, err
	}
	c.absorb(out)
	values := out.GetFields()["ids"].GetListValue().GetValues()
	return lo.Map(values, func(v *structpb.Value, _ int) registry.VehicleHandle {
		return registry.VehicleHandle{ID: v.GetStringValue(), Generation: c.generation}
	}), nil
}

// VehicleState reads one vehicle's snapshot.
func (c *Client) VehicleState(h registry.VehicleHandle) (registry.VehicleState, error) {
	out, err := c.vehicleCall("VehicleState", h, map[string]any{})
	if err != nil {
		return registry.VehicleState{}, err
	}
	f := out.GetFields()
	if found, ok := f["found"]; ok && !found.GetBoolValue() {
		return registry.VehicleState{}, fmt.Errorf("VehicleState %s: %w", h, registry.ErrUnknownVehicle)
	}
	return registry.VehicleState{
		Edge:     f["edge"].GetStringValue(),
		Position: f["position"].GetNumberValue(),
		Speed:    f["speed"].GetNumberValue(),
		Law:      f["law"].GetStringValue(),
	}, nil
}

// SetOverride writes one override slot for the current step.
func (c *Client) SetOverride(h registry.VehicleHandle, kind registry.OverrideKind, value float64, active bool) error {
	_, err := c.vehicleCall("SetOverride", h, map[string]any{
		"kind":   string(kind),
		"value":  value,
		"active": active,
	})
	return err
}

// SetControlLaw swaps the vehicle's control law.
func (c *Client) SetControlLaw(h registry.VehicleHandle, law string, params map[string]float64) error {
	_, err := c.vehicleCall("SetControlLaw", h, map[string]any{
		"law":    law,
		"params": lo.MapValues(params, func(v float64, _ string) any { return v }),
	})
	return err
}

// SetMarker colors the vehicle in the simulator GUI.
func (c *Client) SetMarker(h registry.VehicleHandle, col registry.Color) error {
	_, err := c.vehicleCall("SetMarker", h, map[string]any{
		"color": []any{int(col[0]), int(col[1]), int(col[2])},
	})
	return err
}

// #endregion registry

// #region advance
// Advance sends the step's commands and moves the simulator one step forward. A native
// command tells the simulator to keep its own law for that vehicle.
func (c *Client) Advance(ctx context.Context, cmds []control.Command) error {
	out, err := c.invoke(ctx, "Advance", map[string]any{
		"commands": lo.Map(cmds, func(cmd control.Command, _ int) any {
			return map[string]any{
				"id":        cmd.ID,
				"accel":     cmd.Accel,
				"max_speed": cmd.MaxSpeed,
				"shocked":   cmd.Shocked,
				"native":    cmd.Native,
			}
		}),
	})
	if err != nil {
		return err
	}
	c.absorb(out)
	return nil
}

// #endregion advance
