package sqlinline

const QSelectPromptContents = `--sql c874a6a1-9608-457d-8aa2-7cb10555971b
select contents
from daily_read
where title = $1
order by id desc
limit 1;
`

const QUpdatePromptContents = `--sql f0b73159-5f4a-48dc-9005-64d81e961a02
update daily_read
set contents = $2
where title = $1;
`

const QInsertPromptContents = `--sql 70124b9a-d858-4c12-8408-e364d2e82fe0
insert into daily_read (title, contents)
values ($1, $2);
`
