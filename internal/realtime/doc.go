// Package realtime is the consumer-facing notification service.
//
// A Service owns one connection.Manager, the in-memory notification log and
// the listener registry. Inbound "notification" frames are decoded into
// model.Notification values, recorded in the log, rendered by the Presenter
// and then fanned out to listeners:
//
//	svc := realtime.NewFromConfig(cfg, p, logger)
//	unsubscribe := svc.AddListener(func(ev listener.Event) { ... })
//	defer unsubscribe()
//
//	if _, err := svc.Connect(token); err != nil {
//	    return err
//	}
//	defer svc.Disconnect()
//
// Services are constructed explicitly; there is no package-level instance.
package realtime
