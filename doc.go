/*
Package dnspodd keeps a DNS address record pointed at the machine's
current public IP.

Usage will always start with [New],
which takes the record to manage and a provider option such as [UsingDNSPod].
Additional client configuration options are listed in the docs for New.

	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com", Sub: "home"},
		dnspodd.UsingDNSPod(os.Getenv("DNSPOD_LOGIN_TOKEN")),
	)

[Client.Run] then reconverges the record on a fixed interval until the
context is cancelled. [Client.RunOnce] performs a single cycle for
one-shot use.
*/
package dnspodd
