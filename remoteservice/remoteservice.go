// Package remoteservice defines IRemoteService, the interface the demo
// server exposes, together with its implementation and a typed client proxy.
package remoteservice

import (
	"mini-binder/codec"
	"mini-binder/descriptor"
	"mini-binder/rect"
)

// Name is the endpoint name the demo server registers IRemoteService under.
const Name = "com.example.aidl"

// Method identifiers. They are part of the wire contract and never reused.
const (
	MethodGetPid       uint32 = 1
	MethodBasicTypes   uint32 = 2
	MethodAddRectInOut uint32 = 3
)

// Descriptor is the IRemoteService method table.
var Descriptor = descriptor.MustNew("IRemoteService",
	descriptor.Method{
		Name:   "getPid",
		ID:     MethodGetPid,
		Return: codec.Int32,
	},
	descriptor.Method{
		Name: "basicTypes",
		ID:   MethodBasicTypes,
		Params: []descriptor.Param{
			descriptor.Arg("anInt", codec.Int32),
			descriptor.Arg("aLong", codec.Int64),
			descriptor.Arg("aBoolean", codec.Bool),
			descriptor.Arg("aFloat", codec.Float32),
			descriptor.Arg("aDouble", codec.Float64),
			descriptor.Arg("aString", codec.Text),
		},
	},
	descriptor.Method{
		Name:   "addRectInOut",
		ID:     MethodAddRectInOut,
		Params: []descriptor.Param{descriptor.ArgInOut("rect", rect.Shape)},
	},
)
