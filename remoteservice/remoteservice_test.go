package remoteservice

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mini-binder/client"
	"mini-binder/rect"
	"mini-binder/registry"
	"mini-binder/server"
)

func TestDescriptor(t *testing.T) {
	tests := []struct {
		name  string
		id    uint32
		inout []int
	}{
		{"getPid", MethodGetPid, nil},
		{"basicTypes", MethodBasicTypes, nil},
		{"addRectInOut", MethodAddRectInOut, []int{0}},
	}
	for _, tt := range tests {
		m, ok := Descriptor.Lookup(tt.name)
		if !ok {
			t.Fatalf("%s missing", tt.name)
		}
		if m.ID != tt.id {
			t.Errorf("%s id = %d, want %d", tt.name, m.ID, tt.id)
		}
		if got := m.InOut(); len(got) != len(tt.inout) {
			t.Errorf("%s in-out = %v, want %v", tt.name, got, tt.inout)
		}
	}
	if m, _ := Descriptor.Lookup("basicTypes"); len(m.Params) != 6 {
		t.Errorf("basicTypes has %d params", len(m.Params))
	}
}

func startService(t testing.TB, logger *zap.Logger) (*Service, *Proxy, *client.Client) {
	t.Helper()
	svc := NewService(4321, logger)
	ep, err := server.NewEndpoint(Name, Descriptor, svc)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	svr := server.NewServer(server.WithIdentity(4321))
	if err := svr.Register(ep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go svr.ServeListener(listener)

	reg := registry.NewStaticRegistry()
	reg.Register(Name, registry.ServiceInstance{Network: "tcp", Addr: svr.Addr().String()}, 0)
	c := client.NewClient(Descriptor, reg, nil)
	if err := c.Connect(context.Background(), Name); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		c.Disconnect()
		svr.Shutdown(time.Second)
	})
	return svc, NewProxy(c), c
}

func TestProxyCalls(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc, proxy, c := startService(t, zap.New(core))

	pid, err := proxy.GetPid()
	if err != nil {
		t.Fatalf("GetPid: %v", err)
	}
	if conn, _ := c.Connection(); pid != 4321 || conn.Identity != pid {
		t.Errorf("GetPid = %d, identity %d", pid, conn.Identity)
	}

	if err := proxy.BasicTypes(12, 123, true, 123.4, 123.45, "服务端你好，我是客户端"); err != nil {
		t.Fatalf("BasicTypes: %v", err)
	}
	want := BasicValues{12, 123, true, 123.4, 123.45, "服务端你好，我是客户端"}
	if got, ok := svc.LastBasicTypes(); !ok || got != want {
		t.Errorf("service saw %+v, want %+v", got, want)
	}

	in := rect.New(1, 2, 3, 4)
	out, err := proxy.AddRectInOut(in)
	if err != nil {
		t.Fatalf("AddRectInOut: %v", err)
	}
	if out != in {
		t.Errorf("AddRectInOut = %v, want %v", out, in)
	}
	if got, ok := svc.LastRect(); !ok || got != in {
		t.Errorf("service saw %v", got)
	}

	entries := logs.FilterMessage("addRectInOut").All()
	if len(entries) != 1 || entries[0].ContextMap()["rect"] != "Record[left:1,top:2,right:3,bottom:4]" {
		t.Errorf("addRectInOut log = %+v", entries)
	}
	if logs.FilterMessage("basicTypes").Len() != 1 {
		t.Error("basicTypes was not logged")
	}
}

func TestProxyOnDisconnectedClient(t *testing.T) {
	proxy := NewProxy(client.NewClient(Descriptor, registry.NewStaticRegistry(), nil))
	if _, err := proxy.GetPid(); err == nil {
		t.Error("GetPid succeeded without a connection")
	}
	if _, err := proxy.AddRectInOut(rect.New(0, 0, 1, 1)); err == nil {
		t.Error("AddRectInOut succeeded without a connection")
	}
}
