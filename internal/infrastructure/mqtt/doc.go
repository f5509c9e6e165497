// Package mqtt connects the daemon to an MQTT broker.
//
// Lifecycle events of every device are published below the node's topic
// tree, the daemon announces itself on a retained status topic guarded by
// a Last Will, and commands such as "rescan" are received on the command
// topics.
//
//	fwupd/{node}/status
//	fwupd/{node}/device/{device id}/{event kind}
//	fwupd/{node}/command/{name}
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Daemon.Name)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeCommands(func(name string, _ []byte) error {
//	    if name == "rescan" {
//	        rescan <- struct{}{}
//	    }
//	    return nil
//	})
//
// A *Client satisfies lifecycle.Publisher.
package mqtt
