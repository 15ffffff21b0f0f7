// Package coratools is a client SDK for the LoggerNet datalogger network
// server, together with a relational database data source.
//
// The SDK speaks LoggerNet's message protocol over one TCP connection. Work
// is organised into transaction components (package loggernet), each of
// which opens its own session on a shared router, logs on, runs one command
// or subscription and reports the outcome to an application client through
// callbacks. Database tables written by LoggerNet are read through the
// dbsource package, which streams records to data sinks.
//
// # Architecture
//
// The library is organised into layers:
//
//   - Client: configuration, connection and run loop
//   - loggernet: the transaction components
//   - devicebase: session, logon and device-open handshake shared by components
//   - router: session multiplexing over a byte stream
//   - framing, messages: wire format
//   - event: deferred callback delivery on one goroutine
//   - datasource, dbsource: record requests served from a SQL database
//
// # Threading
//
// Every component, callback and data source runs on the goroutine that runs
// the event dispatcher. The router read loop and database workers only post
// events. Client.Run drives both loops; components must be started from
// within a dispatched function, for example with Client.Do.
//
// # Basic Usage
//
//	cfg, err := config.Load("coratools.yaml")
//	if err != nil {
//	    return err
//	}
//	client, err := coratools.Dial(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	estimator := loggernet.NewServerTimeEstimator()
//	client.Do(func() {
//	    if err := client.Configure(estimator); err != nil {
//	        return
//	    }
//	    _ = estimator.Start(myClient, client.Router())
//	})
//	return client.Run(ctx)
package coratools
