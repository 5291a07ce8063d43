// Copyright 2026 The l2sequencer Authors
// This file is part of the l2sequencer library.
//
// The l2sequencer library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package event implements a one-way, typed publish/subscribe mechanism so
// that components with cyclic logical references (the priority queue, its
// workers, and the sequencer) never call into each other directly: they
// send on a Feed and the other side ranges over a channel.
package event

import (
	"errors"
	"reflect"
	"sync"
)

var errBadChannel = errors.New("event: Subscribe argument does not have sendable channel type")

// Feed implements one-to-many subscriptions where the carrier of events is
// a channel. Values sent to a Feed are delivered to all subscribed
// channels, possibly simultaneously. Feeds can only be used with a single
// type; attempting to use multiple types panics, consistent with the
// teacher's own event.Feed and giving callers an immediate signal rather
// than a silently-dropped event.
type Feed struct {
	once      sync.Once
	sendLock  chan struct{}
	removeSub chan interface{}
	sendCases caseList

	mu     sync.Mutex
	inbox  caseList
	etype  reflect.Type
	closed bool
}

func (f *Feed) init(etype reflect.Type) {
	f.etype = etype
	f.sendLock = make(chan struct{}, 1)
	f.sendLock <- struct{}{}
	f.removeSub = make(chan interface{})
	f.sendCases = caseList{{Chan: reflect.ValueOf(f.removeSub), Dir: reflect.SelectRecv}}
}

// Subscription represents a stream of events. The carrier of events is
// typically a channel, but isn't part of the interface.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

type feedSub struct {
	feed    *Feed
	channel reflect.Value
	errOnce sync.Once
	err     chan error
}

// Subscribe adds a channel to the feed. Future sends will be delivered on
// the channel until the subscription is canceled.
func (f *Feed) Subscribe(channel interface{}) Subscription {
	f.once.Do(func() { f.init(reflect.TypeOf(channel).Elem()) })

	chanval := reflect.ValueOf(channel)
	chantyp := chanval.Type()
	if chantyp.Kind() != reflect.Chan || chantyp.ChanDir()&reflect.SendDir == 0 {
		panic(errBadChannel)
	}
	if chantyp.Elem() != f.etype {
		panic("event: wrong type " + chantyp.Elem().String() + " in Subscribe, expected " + f.etype.String())
	}

	sub := &feedSub{feed: f, channel: chanval, err: make(chan error, 1)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(sub.err)
		return sub
	}
	cas := reflect.SelectCase{Dir: reflect.SelectSend, Chan: chanval}
	f.inbox = append(f.inbox, cas)
	return sub
}

func (sub *feedSub) Unsubscribe() {
	sub.errOnce.Do(func() {
		sub.feed.remove(sub)
		close(sub.err)
	})
}

func (sub *feedSub) Err() <-chan error {
	return sub.err
}

func (f *Feed) remove(sub *feedSub) {
	ch := sub.channel.Interface()
	f.mu.Lock()
	index := f.inbox.find(ch)
	if index != -1 {
		f.inbox = f.inbox.delete(index)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.removeSub <- ch
}

// Send delivers to all subscribed channels simultaneously. It returns the
// number of subscribers that the value was sent to. Send panics if value
// isn't assignable to the Feed's element type.
func (f *Feed) Send(value interface{}) (nsent int) {
	rvalue := reflect.ValueOf(value)

	f.once.Do(func() { f.init(rvalue.Type()) })
	<-f.sendLock

	f.mu.Lock()
	f.sendCases = append(f.sendCases, f.inbox...)
	f.mu.Unlock()

	if !f.typecheck(rvalue.Type()) {
		f.sendLock <- struct{}{}
		panic("event: Send got type " + rvalue.Type().String() + ", want " + f.etype.String())
	}

	for i := 1; i < len(f.sendCases); i++ {
		f.sendCases[i].Send = rvalue
	}

	cases := f.sendCases
	for {
		for i := 1; i < len(cases); i++ {
			if cases[i].Chan.TrySend(rvalue) {
				nsent++
				cases = cases.deactivate(i)
				i--
			}
		}
		if len(cases) == 1 {
			break
		}
		chosen, recv, _ := reflect.Select(cases)
		if chosen == 0 {
			index := f.sendCases.find(recv.Interface())
			f.sendCases = f.sendCases.delete(index)
			if index >= 0 && index < len(cases) {
				cases = f.sendCases[:len(cases)-1]
			}
		} else {
			cases = cases.deactivate(chosen)
			nsent++
		}
	}

	for i := 1; i < len(f.sendCases); i++ {
		f.sendCases[i].Send = reflect.Value{}
	}
	f.sendLock <- struct{}{}
	return nsent
}

func (f *Feed) typecheck(typ reflect.Type) bool {
	if typ != f.etype {
		return false
	}
	return true
}

// Close terminates the feed, unsubscribing every current subscriber.
func (f *Feed) Close() {
	f.once.Do(func() { f.init(nil) })
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cas := range f.inbox {
		cas.Chan.Close()
	}
	f.inbox = nil
	f.closed = true
}

type caseList []reflect.SelectCase

func (cs caseList) find(channel interface{}) int {
	for i, cas := range cs {
		if cas.Chan.Interface() == channel {
			return i
		}
	}
	return -1
}

func (cs caseList) delete(index int) caseList {
	return append(cs[:index], cs[index+1:]...)
}

func (cs caseList) deactivate(index int) caseList {
	last := len(cs) - 1
	cs[index], cs[last] = cs[last], cs[index]
	return cs[:last]
}
