// Package livedata is the entry point for live wallet data.
//
// A Service hands out shared subscription.Targets for accounts, effects,
// open orders, order books, recent transactions and pending signature
// requests. Each target is backed by a poller that combines a push stream
// with confirming fetches, and is shared by every caller asking for the same
// resource on the same endpoint:
//
//	svc := livedata.New(livedata.Config{Monitor: monitor, Reporter: reporter})
//	defer svc.Shutdown()
//
//	account := svc.SubscribeToAccount("https://horizon.example", accountID)
//	show(account.Latest())
//	unsubscribe := account.Subscribe(show)
//	defer unsubscribe()
//
// When the selected endpoint changes, ResetAllSubscriptions closes every
// target; callers subscribe again and get fresh targets for the new
// endpoint. Connection problems never reach subscribers as errors. They are
// reported through Errors as throttled health events.
package livedata
