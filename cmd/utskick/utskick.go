package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/utskick/utskick"
)

func main() {
	app := &cli.App{
		Name:  "utskick",
		Usage: "a cli for the utskick mail queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "base url of the utskick api",
				Value:   "http://localhost:8080",
				EnvVars: []string{"UTSKICK_HOST"},
			},
			&cli.StringFlag{
				Name:    "credential",
				Usage:   "api key, admin token or trigger secret, depending on the command",
				EnvVars: []string{"UTSKICK_CREDENTIAL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "send",
				Usage: "enqueue one message",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "recipient email"},
					&cli.StringFlag{Name: "subject", Usage: "subject line"},
					&cli.StringFlag{Name: "body", Usage: "html body"},
				},
				Action: send,
			},
			{
				Name:  "campaign",
				Usage: "fan a bulk announcement out to a target group",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "subject line"},
					&cli.StringFlag{Name: "message", Usage: "announcement text, blank line separates paragraphs"},
					&cli.StringFlag{Name: "image-url", Usage: "optional header image"},
					&cli.StringFlag{Name: "link", Usage: "optional call to action link"},
					&cli.StringFlag{Name: "link-text", Usage: "text for the call to action link"},
					&cli.StringFlag{Name: "group", Usage: "target group: all, users or event_registrants", Value: "all"},
				},
				Action: sendCampaign,
			},
			{
				Name:   "process",
				Usage:  "trigger one batch processing round",
				Action: process,
			},
			{
				Name:   "stats",
				Usage:  "print aggregate delivery stats",
				Action: stats,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "got err", err)
		os.Exit(1)
	}
}

func client(c *cli.Context) *utskick.Client {
	return utskick.NewClient(c.String("host"), c.String("credential"))
}

func send(c *cli.Context) error {
	msg, err := client(c).Enqueue(c.Context, c.String("to"), c.String("subject"), c.String("body"))
	if err != nil {
		return err
	}
	fmt.Printf("queued %s to %s, status %s\n", msg.Id, msg.To, msg.Status)
	return nil
}

func sendCampaign(c *cli.Context) error {
	count, err := client(c).SendCampaign(c.Context, utskick.Campaign{
		Subject:     c.String("subject"),
		Message:     c.String("message"),
		ImageUrl:    c.String("image-url"),
		Link:        c.String("link"),
		LinkText:    c.String("link-text"),
		TargetGroup: utskick.TargetGroup(c.String("group")),
	})
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %d recipients\n", count)
	return nil
}

func process(c *cli.Context) error {
	count, err := client(c).Trigger(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("processed %d messages\n", count)
	return nil
}

func stats(c *cli.Context) error {
	counts, err := client(c).Stats(c.Context)
	if err != nil {
		return err
	}
	for _, sc := range counts {
		fmt.Printf("%-10s %d\n", sc.Status, sc.Count)
	}
	return nil
}
