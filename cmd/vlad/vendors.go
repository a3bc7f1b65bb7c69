package main

import (
	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/mdatp"
	"github.com/mfittko/vlad/internal/tmv1"
	"github.com/mfittko/vlad/internal/transport"
)

func httpClient(name string, d edr.Deps) *transport.Client {
	return transport.New(name, transport.Options{
		Timeout:            d.HTTPTimeout,
		InsecureSkipVerify: d.InsecureSkipVerify,
		UserAgent:          d.UserAgent,
		Logger:             d.Logger,
	})
}

// defaultRegistry wires the built-in vendors.
func defaultRegistry() *edr.Registry {
	reg := edr.NewRegistry()
	reg.Register(mdatp.Name, func(d edr.Deps) edr.Vendor {
		return mdatp.New(mdatp.Options{HTTP: httpClient(mdatp.Name, d), Logger: d.Logger})
	})
	reg.Register(tmv1.Name, func(d edr.Deps) edr.Vendor {
		return tmv1.New(tmv1.Options{HTTP: httpClient(tmv1.Name, d), Logger: d.Logger, Timeout: d.PollTimeout})
	})
	return reg
}
