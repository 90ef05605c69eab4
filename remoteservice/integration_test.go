package remoteservice

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"mini-binder/client"
	"mini-binder/loadbalance"
	"mini-binder/rect"
	"mini-binder/registry"
	"mini-binder/server"
)

// Two servers publish the same endpoint in etcd; successive connects are
// spread over both by the round-robin balancer.
func TestMultiServerWithEtcd(t *testing.T) {
	endpoint := os.Getenv("MINI_BINDER_ETCD")
	if endpoint == "" {
		t.Skip("MINI_BINDER_ETCD not set")
	}
	reg, err := registry.NewEtcdRegistry([]string{endpoint}, 5*time.Second, nil)
	if err != nil {
		t.Fatalf("NewEtcdRegistry: %v", err)
	}
	defer reg.Close()

	const name = "mini-binder.integration"
	identities := map[int32]bool{}
	for _, id := range []int32{101, 102} {
		svr := server.NewServer(server.WithIdentity(id),
			server.WithRegistry(reg, registry.ServiceInstance{Weight: 10}, 10))
		ep, err := server.NewEndpoint(name, Descriptor, NewService(id, nil))
		if err != nil {
			t.Fatalf("NewEndpoint: %v", err)
		}
		svr.Register(ep)
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		go svr.ServeListener(listener)
		defer svr.Shutdown(3 * time.Second)
		identities[id] = false
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		instances, _ := reg.Discover(name)
		if len(instances) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("discovered %d instances, want 2", len(instances))
		}
		time.Sleep(20 * time.Millisecond)
	}

	c := client.NewClient(Descriptor, reg, &loadbalance.RoundRobinBalancer{})
	proxy := NewProxy(c)
	for i := 0; i < 4; i++ {
		if err := c.Connect(context.Background(), name); err != nil {
			t.Fatalf("Connect #%d: %v", i, err)
		}
		pid, err := proxy.GetPid()
		if err != nil {
			t.Fatalf("GetPid: %v", err)
		}
		identities[pid] = true
		if out, err := proxy.AddRectInOut(rect.New(int32(i), 0, 1, 1)); err != nil || out.Left() != int32(i) {
			t.Fatalf("AddRectInOut = %v, %v", out, err)
		}
		c.Disconnect()
	}
	for id, seen := range identities {
		if !seen {
			t.Errorf("server %d never picked", id)
		}
	}
}
