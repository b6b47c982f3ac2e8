package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/spf13/cobra"

	"github.com/user/storedash/internal/derive"
	"github.com/user/storedash/internal/gateway"
)

func init() {
	rootCmd.AddCommand(eventsCmd, productsCmd, processCmd, analyzeCmd, kpisCmd, reportCmd, searchCmd, chatCmd, auditsCmd)

	eventsCmd.Flags().Int("limit", 20, "number of events to list (0 lists none)")
	eventsCmd.Flags().Bool("summary", false, "print only the summary")
	reportCmd.Flags().Bool("confirm", false, "regenerate the report instead of using a cached one")
	reportCmd.Flags().Bool("html", false, "print the raw HTML report")
	reportCmd.Flags().Bool("summary", false, "print the AI summary only")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Load the collector's events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		batch, err := a.gateway.LoadEvents(context.Background())
		if err != nil {
			return err
		}
		summary := derive.Summarize(batch)
		onlySummary, _ := cmd.Flags().GetBool("summary")
		if jsonOut {
			if onlySummary {
				return printJSON(summary)
			}
			return printJSON(batch)
		}

		printProvenance(batch.FromPrimarySource)
		fmt.Printf("%d events, %d stores, %d event types, %s total\n",
			summary.EventCount, summary.UniqueStores, summary.UniqueEventTypes, money(summary.TotalAmount))
		if onlySummary {
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 || len(batch.Events) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTORE\tTIME\tTYPE\tAMOUNT\tITEMS")
		for i, ev := range batch.Events {
			if i == limit {
				break
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				ev.EventID, ev.StoreID, ev.Ts.Format("2006-01-02 15:04"), ev.EventType,
				money(ev.Payload.Amount), truncate(strings.Join(ev.Payload.Items, ", "), 40))
		}
		return w.Flush()
	},
}

var productsCmd = &cobra.Command{
	Use:   "products [query]",
	Short: "List products, or search them and print chart data",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		batch, err := a.gateway.LoadEvents(context.Background())
		if err != nil {
			return err
		}

		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			catalogue := derive.NewCatalogue(batch)
			if jsonOut {
				return printJSON(catalogue)
			}
			printProvenance(catalogue.FromPrimarySource)
			for _, p := range catalogue.Products {
				fmt.Println(p)
			}
			return nil
		}

		res := derive.Search(batch, args[0])
		if jsonOut {
			return printJSON(res)
		}
		printProvenance(res.FromPrimarySource)
		if len(res.Matches) == 0 {
			fmt.Printf("No products match %q.\n", args[0])
			return nil
		}
		fmt.Printf("%d matches, revenue %s, average %s, stores %s\n\n",
			len(res.Matches), money(res.TotalRevenue), money(res.AverageAmount), strings.Join(res.Stores, ", "))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MONTH\tAMOUNT")
		for _, m := range res.Charts.SalesTrend {
			fmt.Fprintf(w, "%s\t%d\n", m.Month, m.Amount)
		}
		fmt.Fprintln(w, "\nSTORE\tAMOUNT")
		for _, s := range res.Charts.StoreSales {
			fmt.Fprintf(w, "%s\t%d\n", s.Store, s.Amount)
		}
		fmt.Fprintln(w, "\nSEASON\tAMOUNT")
		for _, s := range res.Charts.SeasonSales {
			fmt.Fprintf(w, "%s\t%d\n", s.Season, s.Amount)
		}
		fmt.Fprintln(w, "\nCUSTOMER\tAMOUNT")
		for _, c := range res.Charts.CustomerSales {
			fmt.Fprintf(w, "%s\t%d\n", c.Category, c.Amount)
		}
		return w.Flush()
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Send the latest events to the coordinator",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		out, err := unwrap(a.gateway.TriggerProcessing(context.Background()))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(out)
		}
		if out.Rejected() {
			fmt.Printf("Batch rejected: %s\n", out.Message)
			return nil
		}
		fmt.Printf("Batch %s %s, %d insights.\n", out.BatchID, out.Status, out.InsightsCount)
		for _, e := range out.Errors {
			fmt.Println("  error:", e)
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analyzer over the latest events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		out, err := unwrap(a.gateway.RunAnalysis(context.Background()))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(out)
		}
		fmt.Printf("%d insights (%d from LLM)\n", out.Insights, out.LLMInsightsCount)
		for _, in := range out.InsightsList {
			fmt.Printf("- [%s] %s (confidence %.2f)\n", in.StoreID, in.Text, in.Confidence)
		}
		return nil
	},
}

var kpisCmd = &cobra.Command{
	Use:   "kpis [store-id]",
	Short: "Show KPIs for every store or one store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}

		var kpis []gateway.KPI
		if len(args) == 1 {
			kpi, err := unwrap(a.gateway.GetStoreKPI(context.Background(), args[0]))
			if err != nil {
				return err
			}
			kpis = []gateway.KPI{kpi}
		} else {
			kpis, err = unwrap(a.gateway.GetKPIs(context.Background()))
			if err != nil {
				return err
			}
		}
		if jsonOut {
			return printJSON(kpis)
		}
		if len(kpis) == 0 {
			fmt.Println("No KPIs available.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STORE\tSALES\tTOTAL\tAVG ORDER\tITEMS\tBY CUSTOMER")
		for _, k := range kpis {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
				k.StoreID, k.Metrics.SalesCount, money(k.Metrics.TotalSales),
				money(k.Metrics.AverageOrderValue), k.Metrics.TotalItemsSold, breakdown(k.ByCustomerCategory))
		}
		return w.Flush()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <store-id>",
	Short: "Fetch a store report with its AI summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		ctx := context.Background()
		storeID := args[0]
		onlySummary, _ := cmd.Flags().GetBool("summary")

		summary, err := unwrap(a.gateway.FetchReportSummary(ctx, storeID))
		if err != nil {
			return err
		}
		if onlySummary {
			if jsonOut {
				return printJSON(summary)
			}
			fmt.Println(summary.AISummary)
			return nil
		}

		confirm, _ := cmd.Flags().GetBool("confirm")
		report, err := unwrap(a.gateway.GenerateReport(ctx, storeID, confirm))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(map[string]any{"report": report, "summary": summary})
		}

		fmt.Printf("## AI summary for %s\n\n%s\n\n", storeID, summary.AISummary)
		if rawHTML, _ := cmd.Flags().GetBool("html"); rawHTML {
			fmt.Println(report.HTML)
			return nil
		}
		md, err := htmltomarkdown.ConvertString(report.HTML)
		if err != nil {
			return fmt.Errorf("convert report: %w", err)
		}
		fmt.Println(md)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over analyzed insights",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		out, err := unwrap(a.gateway.SemanticSearch(context.Background(), strings.Join(args, " ")))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(out)
		}
		if len(out.Results) == 0 {
			fmt.Println("No results.")
			if out.Message != "" {
				fmt.Println(out.Message)
			}
			return nil
		}
		for i, r := range out.Results {
			fmt.Printf("%d. (%.2f) %s\n", i+1, r.SimilarityScore, truncate(r.DocumentPreview, 100))
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask the AI assistant, or start a conversation when no question is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		ctx := context.Background()

		if len(args) > 0 {
			reply := a.gateway.ChatWithAI(ctx, strings.Join(args, " "), nil)
			if jsonOut {
				return printJSON(reply)
			}
			fmt.Println(reply.Response)
			return nil
		}

		var history []gateway.ChatTurn
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("Ask about your stores. Type 'exit' to quit.")
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			question := strings.TrimSpace(scanner.Text())
			switch question {
			case "":
				continue
			case "exit", "quit":
				return nil
			}
			reply := a.gateway.ChatWithAI(ctx, question, history)
			fmt.Println(reply.Response)
			history = append(history,
				gateway.ChatTurn{Text: question, IsUser: true},
				gateway.ChatTurn{Text: reply.Response, IsUser: false},
			)
		}
	},
}

var auditsCmd = &cobra.Command{
	Use:   "audits [batch-id]",
	Short: "List coordinator batch audits, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.requireSession(); err != nil {
			return err
		}
		ctx := context.Background()

		if len(args) == 1 {
			audit, err := unwrap(a.gateway.GetAudit(ctx, args[0]))
			if err != nil {
				return err
			}
			return printJSON(audit)
		}

		audits, err := unwrap(a.gateway.ListAudits(ctx))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(audits)
		}
		if len(audits) == 0 {
			fmt.Println("No audits found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BATCH\tTIME\tSTATUS\tEVENTS\tERRORS")
		for _, au := range audits {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", au.BatchID, au.Ts, au.Status, au.EventsCount, len(au.Errors))
		}
		return w.Flush()
	},
}
