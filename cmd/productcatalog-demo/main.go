// Command productcatalog-demo wires the product catalog example end to
// end: an in-memory journal, an Aggregate Manager over it, a projection
// runtime feeding a view.Repository, and the askJoin monitor — then
// creates one product, changes its price through askJoin, attempts two
// further price changes that may be rejected, and prints the view row.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	pcdomain "github.com/cqrskit/core/examples/productcatalog/domain"
	pcprojection "github.com/cqrskit/core/examples/productcatalog/projection"
	"github.com/cqrskit/core/pkg/aggregate"
	coredomain "github.com/cqrskit/core/pkg/domain"
	"github.com/cqrskit/core/pkg/idgen"
	"github.com/cqrskit/core/pkg/join"
	"github.com/cqrskit/core/pkg/journal"
	"github.com/cqrskit/core/pkg/memjournal"
	"github.com/cqrskit/core/pkg/projection"
	coreruntime "github.com/cqrskit/core/pkg/runtime"
	"github.com/cqrskit/core/pkg/runner"
	"github.com/cqrskit/core/pkg/view"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	j := memjournal.New()
	behaviorDef := pcdomain.NewBehavior()
	manager := aggregate.New[pcdomain.ProductID, pcdomain.State, pcdomain.Command, pcdomain.Event](
		"product", j, behaviorDef,
		aggregate.WithLogger[pcdomain.ProductID, pcdomain.State, pcdomain.Command, pcdomain.Event](logger),
		aggregate.WithEventIDFunc[pcdomain.ProductID, pcdomain.State, pcdomain.Command, pcdomain.Event](idgen.New),
	)

	repo := view.NewInMemory()
	projRuntime := projection.New(j, projection.WithLogger(logger))
	projRuntime.Register(pcprojection.New(repo))

	monitor := join.New(projRuntime)
	rt := coreruntime.New[pcdomain.ProductID, pcdomain.State, pcdomain.Command, pcdomain.Event](
		j, manager, projRuntime, monitor,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := projection.NewService(projRuntime, "productcatalog.view", journal.TagFilter{Tags: []string{"productcatalog"}})
	run := runner.New([]runner.Service{svc}, runner.WithLogger(slogAdapter{logger}))
	go func() {
		if err := run.Run(ctx); err != nil {
			logger.Error("runner exited", "error", err)
		}
	}()
	time.Sleep(50 * time.Millisecond) // let the projection subscription attach

	nextCommandID := func() coredomain.CommandID { return coredomain.CommandID(idgen.New()) }

	id := pcdomain.ProductID("widget-1")
	_, err := rt.Ask(ctx, id, pcdomain.NewCreateProduct(nextCommandID(), id, "Widget", decimal.NewFromInt(10), decimal.NewFromInt(5)))
	must(err)

	_, err = rt.AskJoin(ctx, id, pcdomain.NewChangePrice(nextCommandID(), decimal.NewFromInt(12)), "productcatalog.view", nil)
	must(err)

	if _, err := rt.Ask(ctx, id, pcdomain.NewChangePrice(nextCommandID(), decimal.NewFromInt(3))); err != nil {
		fmt.Println("price-floor rejection observed:", err)
	}

	if _, err := rt.Ask(ctx, id, pcdomain.NewChangePrice(nextCommandID(), decimal.NewFromInt(11))); err != nil {
		fmt.Println("decrease-price rejection observed:", err)
	}

	row, found, err := repo.Find(ctx, string(id))
	must(err)
	fmt.Printf("view caught up, found=%v row=%+v\n", found, row)

	cancel()
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// slogAdapter satisfies runner.Logger with a *slog.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Info(msg string, kv ...interface{})  { a.l.Info(msg, kv...) }
func (a slogAdapter) Error(msg string, kv ...interface{}) { a.l.Error(msg, kv...) }
func (a slogAdapter) Debug(msg string, kv ...interface{}) { a.l.Debug(msg, kv...) }
